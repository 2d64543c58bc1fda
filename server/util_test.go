package server

import (
	"encoding/json"
	"net/http"
)

func jsonDecode(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
