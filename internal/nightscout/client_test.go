package nightscout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gitter-badger/DiaBLE/common/config"
	"github.com/gitter-badger/DiaBLE/internal/models"
	"github.com/gitter-badger/DiaBLE/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFetchReadings_Success(t *testing.T) {
	var gotSecret, gotCount, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/entries.json", r.URL.Path)
		gotSecret = r.Header.Get("api-secret")
		gotCount = r.URL.Query().Get("count")
		gotToken = r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"_id":"a","type":"sgv","sgv":104,"date":1709294400000,"device":"xDrip-LimiTTer 1.0","direction":"Flat"},
			{"_id":"b","type":"mbg","sgv":0,"date":1709294100000,"device":"meter"},
			{"_id":"c","sgv":98,"date":1709294100000,"device":"Libre 2 app"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(&config.NightscoutConfig{BaseURL: srv.URL, APISecret: "letmein", Token: "tok-1", Count: 12}, zap.NewNop())

	readings, err := c.FetchReadings(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Equal(t, HashSecret("letmein"), gotSecret)
	assert.Equal(t, "12", gotCount)
	assert.Equal(t, "tok-1", gotToken)

	assert.Equal(t, 104, readings[0].Value)
	assert.Equal(t, int(1709294400000/60000), readings[0].ID)
	assert.True(t, readings[0].Date.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "xDrip-LimiTTer", readings[0].ShortSource())
	assert.Equal(t, readings[0].ID-5, readings[1].ID)
}

func TestFetchEntries_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"status":401,"message":"Unauthorized"}`))
	}))
	defer srv.Close()

	c := NewClient(&config.NightscoutConfig{BaseURL: srv.URL}, zap.NewNop())

	_, err := c.FetchEntries(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestHashSecret(t *testing.T) {
	// sha1("abc")
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", HashSecret("abc"))
}

func TestToReadings_SameMinuteSharesID(t *testing.T) {
	readings := ToReadings([]Entry{
		{ID: "a", Type: "sgv", SGV: 104, Date: 1709294400000, Device: "xDrip-LimiTTer 1.0"},
		{ID: "b", Type: "sgv", SGV: 101, Date: 1709294420000, Device: "Libre 2 app"},
	})
	require.Len(t, readings, 2)
	assert.Equal(t, readings[0].ID, readings[1].ID)

	// the store keeps only the later of the two
	s := store.NewReadingStore(nil, zap.NewNop())
	_, err := s.Ingest(models.SourceRemoteSync, readings)
	require.NoError(t, err)
	got := s.Snapshot(models.SourceRemoteSync)
	require.Len(t, got, 1)
	assert.Equal(t, 101, got[0].Value)
}
