package processing

import (
	"encoding/json"
	"fmt"
	"time"
)

// Result is one feature detected by the analysis service.
type Result struct {
	CentreOfMass [3]float64 `json:"centre_of_mass"`
	MaxVoxel     [3]int     `json:"max_voxel"`
	MaxCount     int64      `json:"max_count"`
	NVoxels      int64      `json:"n_voxels"`
	TotalCount   int64      `json:"total_count"`
	BoundingBox  [2][3]int  `json:"bounding_box"`
}

// ResultSet is the complete output for one collection, in the order the
// analysis service ranked it.
type ResultSet struct {
	CollectionID int64     `json:"ispyb_dcid"`
	Results      []Result  `json:"results"`
	ReceivedAt   time.Time `json:"received_at,omitzero"`
}

// First returns the highest-ranked result.
func (s ResultSet) First() (Result, bool) {
	if len(s.Results) == 0 {
		return Result{}, false
	}
	return s.Results[0], true
}

// clone returns a copy whose Results slice is not shared.
func (s ResultSet) clone() ResultSet {
	if s.Results != nil {
		s.Results = append([]Result(nil), s.Results...)
	}
	return s
}

// DecodeResultSet parses a result-set message.
// A message without a results array is rejected rather than read as empty.
func DecodeResultSet(payload []byte) (ResultSet, error) {
	var raw struct {
		CollectionID int64     `json:"ispyb_dcid"`
		Results      *[]Result `json:"results"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ResultSet{}, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if raw.Results == nil {
		return ResultSet{}, fmt.Errorf("%w: missing results", ErrInvalidResult)
	}
	return ResultSet{CollectionID: raw.CollectionID, Results: *raw.Results}, nil
}
