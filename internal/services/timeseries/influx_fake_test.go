package timeseries

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

type deleteRequest struct {
	Org       string
	Bucket    string
	Start     time.Time `json:"start"`
	Stop      time.Time `json:"stop"`
	Predicate string    `json:"predicate"`
}

// fakeInflux serves the three InfluxDB v2 endpoints the package uses.
type fakeInflux struct {
	mu          sync.Mutex
	writes      []string
	queries     []string
	deletes     []deleteRequest
	writeStatus int
	queryStatus int
	queryCSV    func(flux string) string
}

func newFakeInflux(t *testing.T) (*fakeInflux, influxdb2.Client) {
	t.Helper()
	f := &fakeInflux{queryCSV: func(string) string { return csvResult() }}
	srv := httptest.NewServer(f)
	client := influxdb2.NewClientWithOptions(srv.URL, "test-token", influxdb2.DefaultOptions().SetHTTPRequestTimeout(5))
	t.Cleanup(func() {
		client.Close()
		srv.Close()
	})
	return f, client
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/api/v2/write":
		f.writes = append(f.writes, string(body))
		if f.writeStatus != 0 {
			writeError(w, f.writeStatus)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/query":
		var req struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &req)
		f.queries = append(f.queries, req.Query)
		if f.queryStatus != 0 {
			writeError(w, f.queryStatus)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, f.queryCSV(req.Query))
	case "/api/v2/delete":
		d := deleteRequest{Org: r.URL.Query().Get("org"), Bucket: r.URL.Query().Get("bucket")}
		_ = json.Unmarshal(body, &d)
		f.deletes = append(f.deletes, d)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `{"code":"internal error","message":"store failure"}`)
}

func (f *fakeInflux) snapshot() (writes, queries []string, deletes []deleteRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...), append([]string(nil), f.queries...), append([]deleteRequest(nil), f.deletes...)
}

type csvRow struct {
	table int
	time  string
	value float64
}

// csvResult renders an annotated CSV response as returned by /api/v2/query.
// No rows means an empty body.
func csvResult(rows ...csvRow) string {
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("#datatype,string,long,dateTime:RFC3339,double,string,string,string,string\n")
	b.WriteString("#group,false,false,false,false,true,true,true,true\n")
	b.WriteString("#default,_result,,,,,,,\n")
	b.WriteString(",result,table,_time,_value,_field,_measurement,sensor_id,user_id\n")
	for _, r := range rows {
		fmt.Fprintf(&b, ",,%d,%s,%g,value,sensor_data,d1,u1\n", r.table, r.time, r.value)
	}
	b.WriteString("\n")
	return b.String()
}
