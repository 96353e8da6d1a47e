package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// decodeBody returns the webhook "data" object. Form posts (Twilio) and
// JSON objects without a "data" key are wrapped as a whole.
func decodeBody(w http.ResponseWriter, r *http.Request, maxBytes int64) (map[string]any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return decodeForm(r, mediaType == "multipart/form-data", maxBytes)
	default:
		return decodeJSON(r.Body)
	}
}

func decodeForm(r *http.Request, multipart bool, maxBytes int64) (map[string]any, error) {
	var err error
	if multipart {
		err = r.ParseMultipartForm(maxBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}

	data := make(map[string]any, len(r.PostForm))
	for k, vs := range r.PostForm {
		switch len(vs) {
		case 0:
			data[k] = ""
		case 1:
			data[k] = vs[0]
		default:
			data[k] = vs
		}
	}
	return data, nil
}

func decodeJSON(body io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty body")
		}
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("body must be a JSON object")
	}
	inner, wrapped := obj["data"]
	if !wrapped {
		return obj, nil
	}
	data, ok := inner.(map[string]any)
	if !ok {
		return nil, errors.New("data must be a JSON object")
	}
	return data, nil
}
