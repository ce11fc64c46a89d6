package backtest

import (
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// Window is one train/test split over return periods. Indices are half-open
// rows of the return matrix and TrainEnd == TestStart.
type Window struct {
	Index      int       `json:"index"`
	TrainStart int       `json:"train_start"`
	TrainEnd   int       `json:"train_end"`
	TestStart  int       `json:"test_start"`
	TestEnd    int       `json:"test_end"`
	From       time.Time `json:"from"` // first test date
	To         time.Time `json:"to"`   // last test date
}

// TestLen is the number of held periods.
func (w Window) TestLen() int {
	return w.TestEnd - w.TestStart
}

// BuildWindows lays out rolling windows over dates, the dates of the return
// rows. The first test period starts after trainLen periods and each step
// advances by testLen; a shorter final test window is kept.
func BuildWindows(dates []time.Time, trainLen, testLen int) ([]Window, error) {
	if trainLen < 2 {
		return nil, domain.Errorf(domain.ErrConfig, "train window must be at least 2 periods, got %d", trainLen)
	}
	if testLen < 1 {
		return nil, domain.Errorf(domain.ErrConfig, "test window must be positive, got %d", testLen)
	}
	total := len(dates)
	if total <= trainLen {
		return nil, domain.Errorf(domain.ErrData, "%d return periods do not cover a %d-period train window", total, trainLen)
	}

	var windows []Window
	for start := trainLen; start < total; start += testLen {
		end := start + testLen
		if end > total {
			end = total
		}
		windows = append(windows, Window{
			Index:      len(windows),
			TrainStart: start - trainLen,
			TrainEnd:   start,
			TestStart:  start,
			TestEnd:    end,
			From:       dates[start],
			To:         dates[end-1],
		})
	}
	return windows, nil
}
