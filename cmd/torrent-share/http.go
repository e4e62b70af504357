package main

import (
	"encoding/json"
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/jpillora/requestlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peershare/torrent"
)

// Serves prometheus metrics and a JSON snapshot of the client's stats.
func newHTTPHandler(cl *torrent.Client, logRequests bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.Encode(struct {
			InfoHash string
			torrent.ClientStats
		}{cl.InfoHash().HexString(), cl.Stats()})
	})
	var h http.Handler = gziphandler.GzipHandler(mux)
	if logRequests {
		h = requestlog.Wrap(h)
	}
	return h
}
