package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gitter-badger/DiaBLE/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readReadings accepts a bare reading array or {"readings": [...]}; an empty body is an empty batch
func readReadings(r *http.Request, maxBytes int64) ([]models.Reading, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var readings []models.Reading
		if err := json.Unmarshal(body, &readings); err != nil {
			return nil, err
		}
		return readings, nil
	}

	var payload struct {
		Readings []models.Reading `json:"readings"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return payload.Readings, nil
}
