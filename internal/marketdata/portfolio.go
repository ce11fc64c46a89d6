package marketdata

import (
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/allocator/internal/domain"
)

// Portfolios maps a portfolio name to its ticker universe. The file is YAML
// or JSON:
//
//	mag_seven: [AAPL, MSFT, GOOGL, AMZN, NVDA, META, TSLA]
//	default: [SPY]
type Portfolios map[string][]string

// LoadPortfolios reads a portfolio definition file. Errors wrap domain.ErrConfig
// so a bad file stops startup.
func LoadPortfolios(path string) (Portfolios, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Errorf(domain.ErrConfig, "failed to read portfolio file %s: %v", path, err)
	}
	var p Portfolios
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, domain.Errorf(domain.ErrConfig, "failed to parse portfolio file %s: %v", path, err)
	}
	if len(p) == 0 {
		return nil, domain.Errorf(domain.ErrConfig, "portfolio file %s defines no portfolios", path)
	}
	return p, nil
}

// Tickers returns the named universe, trimmed. Unknown names, empty lists and
// repeated tickers are ErrConfig.
func (p Portfolios) Tickers(name string) ([]string, error) {
	raw, ok := p[name]
	if !ok {
		return nil, domain.Errorf(domain.ErrConfig, "unknown portfolio %q (available: %s)", name, strings.Join(p.Names(), ", "))
	}
	seen := make(map[string]bool, len(raw))
	tickers := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if seen[t] {
			return nil, domain.Errorf(domain.ErrConfig, "portfolio %q lists %s twice", name, t)
		}
		seen[t] = true
		tickers = append(tickers, t)
	}
	if len(tickers) == 0 {
		return nil, domain.Errorf(domain.ErrConfig, "portfolio %q has no tickers", name)
	}
	return tickers, nil
}

// Names lists the defined portfolios in sorted order.
func (p Portfolios) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
