// Package mapper turns a classified record into result rows.
package mapper

import (
	"fmt"

	"github.com/ppiankov/psyclass/internal/model"
)

// Expand returns one row per clinical dimension, in fixed dimension order.
// Every row repeats the record fields and carries the negativity score
// alongside its own measure.
func Expand(rec model.UpstreamRecord, scores model.Scores) ([]model.PersistedRow, error) {
	if err := scores.Validate(); err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.ID, err)
	}

	neg := scores.Negativity()
	dims := model.ClinicalDimensions()
	rows := make([]model.PersistedRow, 0, len(dims))
	for _, d := range dims {
		rows = append(rows, model.PersistedRow{
			ID:             rec.ID,
			IP:             rec.IP,
			Text:           rec.Text,
			Topics:         rec.Topics,
			RepostsCount:   rec.RepostsCount,
			CommentsCount:  rec.CommentsCount,
			AttitudesCount: rec.AttitudesCount,
			CreatedAt:      rec.CreatedAt,
			Measure:        string(d),
			Value:          scores[d],
			Negativity:     neg,
		})
	}
	return rows, nil
}

// ExpandAll expands each classified record and concatenates the rows in order.
func ExpandAll(recs []model.UpstreamRecord, scores []model.Scores) ([]model.PersistedRow, error) {
	if len(recs) != len(scores) {
		return nil, fmt.Errorf("expand: %d records but %d score sets", len(recs), len(scores))
	}
	rows := make([]model.PersistedRow, 0, len(recs)*len(model.ClinicalDimensions()))
	for i, rec := range recs {
		r, err := Expand(rec, scores[i])
		if err != nil {
			return nil, err
		}
		rows = append(rows, r...)
	}
	return rows, nil
}
