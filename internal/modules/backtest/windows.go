package backtest

import (
	"time"

	"github.com/aristath/walkforward/internal/config"
	"github.com/aristath/walkforward/internal/domain"
)

// BuildWindows tiles the benchmark sessions into non-overlapping train/test
// windows. Window i's test period starts exactly where window i-1's ended;
// a trailing remainder shorter than a full test window is dropped. Rolling
// mode keeps the training window at trainDays sessions; expanding mode
// anchors every training window at the first session.
//
// Train/test boundaries are expressed as dates with exclusive ends, so
// TrainEnd always equals TestStart.
func BuildWindows(sessions []time.Time, cfg config.Config) ([]domain.BacktestWindow, error) {
	trainDays, testDays := cfg.TrainWindowDays, cfg.TestWindowDays
	if len(sessions) < trainDays+testDays {
		return nil, domain.InsufficientDataf("%d sessions cannot fit one %d+%d window",
			len(sessions), trainDays, testDays)
	}

	var windows []domain.BacktestWindow
	for i := 0; ; i++ {
		testStart := trainDays + i*testDays
		testEnd := testStart + testDays
		if testEnd > len(sessions) {
			break
		}

		trainStart := 0
		if cfg.WindowMode == config.WindowModeRolling {
			trainStart = i * testDays
		}

		windows = append(windows, domain.BacktestWindow{
			Index:      i,
			TrainStart: sessions[trainStart],
			TrainEnd:   sessions[testStart],
			TestStart:  sessions[testStart],
			TestEnd:    exclusiveEnd(sessions, testEnd),
		})
	}
	return windows, nil
}

// exclusiveEnd returns the date bounding a window that ends at session index
// end. For the final window the bound is the day after the last session.
func exclusiveEnd(sessions []time.Time, end int) time.Time {
	if end < len(sessions) {
		return sessions[end]
	}
	return sessions[len(sessions)-1].AddDate(0, 0, 1)
}
