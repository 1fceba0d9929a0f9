package sqlite

import (
	"context"

	"github.com/iudanet/remerge/internal/models"
)

// dupeExists reports whether a visible record other than id has the same
// values as rec in every dedupe_on field of the local schema.
//
// TODO: scans every visible record; an index over the dedupe_on values
// would make inserts on large collections O(log n).
func (s *Storage) dupeExists(ctx context.Context, q querier, id string, rec models.LocalRecord) (bool, error) {
	fields := s.bundle.LocalSchema().DedupeOn()
	if len(fields) == 0 {
		return false, nil
	}

	visible, err := scanVisible(ctx, q)
	if err != nil {
		return false, err
	}

	for _, v := range visible {
		if v.guid == id {
			continue
		}

		same := true
		for _, f := range fields {
			if !models.ValuesEqual(v.record[f.Name], rec[f.Name]) {
				same = false
				break
			}
		}
		if same {
			return true, nil
		}
	}

	return false, nil
}
