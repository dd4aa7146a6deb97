package routine_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/routine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateFarmerName(t *testing.T) {
	t.Parallel()

	var mx sync.Mutex
	var puts []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /farmers/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch id := r.PathValue("id"); id {
		case "404":
			http.NotFound(w, r)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "firstName": "Same"})
		}
	})
	mux.HandleFunc("PUT /farmers", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mx.Lock()
		puts = append(puts, body)
		mx.Unlock()
		if body["id"] == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	in := writeSheet(t, []string{"farmer_id", "first_name"},
		[]string{"1", "New"},
		[]string{"2", "Same"},
		[]string{"404", "Whoever"},
		[]string{"500", "Other"},
	)
	cfg := routine.Config{routine.KeyToken: "tkn", routine.KeyPostAPIURL: srv.URL + "/farmers/"}
	out, err := run(t, t.Context(), routine.UpdateFarmerName(routine.Options{HTTPClient: srv.Client()}), in, cfg, (&recorder{}).log)
	require.NoError(t, err)

	s := readSheet(t, out)
	require.Equal(t, []string{"Updated", "No Update Needed", "GET Failed", "PUT Failed"}, column(t, s, "status"))
	require.Equal(t, "ok", column(t, s, "response")[0])
	require.Len(t, puts, 2)
	require.Equal(t, "New", puts[0]["firstName"])
}

func TestUpdateFarmerName_MissingColumns(t *testing.T) {
	t.Parallel()
	in := writeSheet(t, []string{"id", "name"}, []string{"1", "x"})
	rec := &recorder{}
	_, err := run(t, t.Context(), routine.UpdateFarmerName(routine.Options{}), in, routine.Config{}, rec.log)
	require.Error(t, err)
	require.Contains(t, rec.lines, "Error: Excel must contain 'farmer_id' and 'first_name' columns.")
}

func TestBulkDeleteFarmers(t *testing.T) {
	t.Parallel()

	var mx sync.Mutex
	var batches [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		mx.Lock()
		batches = append(batches, ids)
		n := len(batches)
		mx.Unlock()
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	s := routine.NewSheet("Farmer_ID")
	for i := range 150 {
		s.AppendRow(fmt.Sprintf("%d", 1000+i))
	}
	s.AppendRow("")
	in := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, s.Save(in))

	cfg := routine.Config{routine.KeyToken: "tkn", routine.KeyPostAPIURL: srv.URL}
	rec := &recorder{}
	out, err := run(t, t.Context(), routine.BulkDeleteFarmers(routine.Options{HTTPClient: srv.Client()}), in, cfg, rec.log)
	require.NoError(t, err)

	require.Len(t, batches, 2)
	require.Len(t, batches[0], 100)
	require.Len(t, batches[1], 50)
	require.Equal(t, "1000", batches[0][0])
	require.Contains(t, rec.lines, "Total Farmers to Delete: 150")

	res := readSheet(t, out)
	status := column(t, res, "Status")
	require.Equal(t, "Deleted", status[0])
	require.Equal(t, "Deleted", status[99])
	require.Equal(t, "Failed (502)", status[100])
	processed := column(t, res, "Processed_IDs")
	require.Equal(t, strings.Join(batches[1], ","), processed[100])
	require.Empty(t, processed[101])
}

func TestBulkDeleteFarmers_NoToken(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	_, err := run(t, t.Context(), routine.BulkDeleteFarmers(routine.Options{}), "in.xlsx", routine.Config{}, rec.log)
	require.Error(t, err)
	require.Equal(t, []string{"No token provided in configuration."}, rec.lines)
}
