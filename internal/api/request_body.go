package api

import (
	"encoding/json"
	"net/http"

	"github.com/docker/go-units"
)

const maxJSONBodyBytes int64 = 2 * units.MiB

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
