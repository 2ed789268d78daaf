package pipeline

import (
	"context"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// StateFetcher retrieves the inputs of the US state panel.
type StateFetcher interface {
	FetchUSStates(ctx context.Context) ([]domain.StateRecord, error)
	FetchUSStateCodes(ctx context.Context) ([]domain.StateCode, error)
}

// AssembleUSStates builds the dense state-level panel from the cumulative
// state feed. Both inputs are required.
func (a *Assembler) AssembleUSStates(ctx context.Context, f StateFetcher) ([]domain.StateRow, error) {
	var integrity domain.IntegrityError

	records, err := f.FetchUSStates(ctx)
	if err != nil {
		integrity.Missing = append(integrity.Missing, domain.InputUSStates)
		integrity.Causes = append(integrity.Causes, err)
	}
	codes, err := f.FetchUSStateCodes(ctx)
	if err != nil {
		integrity.Missing = append(integrity.Missing, domain.InputUSStateCodes)
		integrity.Causes = append(integrity.Causes, err)
	}
	if len(integrity.Missing) > 0 {
		a.logger.Error("us state assembly failed", "error", &integrity)
		return nil, &integrity
	}

	rows := domain.DensifyCumulative(records, codes)
	a.logger.Info("us state panel assembled", "rows", len(rows), "states", len(codes))
	return rows, nil
}

// CountyFetcher retrieves the input of the US county panel.
type CountyFetcher interface {
	FetchUSCounties(ctx context.Context) ([]domain.CountyRecord, error)
}

// AssembleUSCounties builds the dense county-level panel from the cumulative
// county feed.
func (a *Assembler) AssembleUSCounties(ctx context.Context, f CountyFetcher) ([]domain.CountyRow, error) {
	records, err := f.FetchUSCounties(ctx)
	if err != nil {
		integrity := &domain.IntegrityError{
			Missing: []string{domain.InputUSCounties},
			Causes:  []error{err},
		}
		a.logger.Error("us county assembly failed", "error", integrity)
		return nil, integrity
	}

	rows := domain.DensifyCounties(records)
	a.logger.Info("us county panel assembled", "rows", len(rows))
	return rows, nil
}
