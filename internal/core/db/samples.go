package db

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/uploadwaf/internal/telemetry"
	"github.com/solatis/uploadwaf/internal/types"
)

// defaultSampleLimit caps ListSamples when the filter sets no limit.
const defaultSampleLimit = 100

// SampleRepository persists sampled requests. Implements telemetry.SampleStore.
type SampleRepository struct {
	queries *Queries
}

// NewSampleRepository wraps queries.
func NewSampleRepository(queries *Queries) *SampleRepository {
	return &SampleRepository{queries: queries}
}

type sampleRow struct {
	SampleID   string    `db:"sample_id"`
	PolicyID   string    `db:"policy_id"`
	RuleName   string    `db:"rule_name"`
	Action     string    `db:"action"`
	Method     string    `db:"method"`
	URIPath    string    `db:"uri_path"`
	RecordedAt time.Time `db:"recorded_at"`
}

// InsertSample stores one sample.
func (r *SampleRepository) InsertSample(ctx context.Context, s types.SampledRequest) error {
	_, err := r.queries.ExecContext(ctx, "insert-sampled-request",
		string(s.SampleID),
		string(s.PolicyID),
		s.Rule,
		s.Action.String(),
		s.Method,
		s.URIPath,
		s.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample %s: %w", s.SampleID, err)
	}
	return nil
}

// ListSamples returns matching samples, newest first.
func (r *SampleRepository) ListSamples(ctx context.Context, f telemetry.SampleFilter) ([]types.SampledRequest, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultSampleLimit
	}

	var rows []sampleRow
	err := r.queries.SelectContext(ctx, "list-sampled-requests", &rows,
		string(f.PolicyID), string(f.PolicyID),
		f.Rule, f.Rule,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}

	out := make([]types.SampledRequest, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.SampledRequest{
			SampleID:   types.SampleID(row.SampleID),
			PolicyID:   types.PolicyID(row.PolicyID),
			Rule:       row.RuleName,
			Action:     types.ParseAction(row.Action),
			Method:     row.Method,
			URIPath:    row.URIPath,
			RecordedAt: row.RecordedAt.UTC(),
		})
	}
	return out, nil
}

// PruneSamples deletes samples recorded before cutoff and returns how many were removed.
func (r *SampleRepository) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.queries.ExecContext(ctx, "delete-sampled-requests-before", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}
	return res.RowsAffected()
}
