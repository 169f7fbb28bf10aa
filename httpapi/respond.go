// Copyright (c) 2026 The dubqueue Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// errorBody is the JSON shape of any non-2xx response: a code and a free-text
// detail. Quota errors report limit, remaining and reset_seconds inside
// detail, not as separate fields.
type errorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if obj != nil {
		if err := json.NewEncoder(w).Encode(obj); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeErr translates any error into the HTTP response spec.md §7
// prescribes: an *common.APIError carries its own status/headers; anything
// else becomes a 500 with no internal detail leaked to the caller.
func writeErr(log common.ILogger, w http.ResponseWriter, err error) {
	if ae, ok := common.AsAPIError(err); ok {
		for k, v := range ae.Headers {
			w.Header().Set(k, v)
		}
		writeJSON(w, ae.Status, errorBody{Code: ae.Code, Detail: ae.Detail})
		return
	}
	if log != nil && log.ShouldLog(common.LogWarning) {
		log.Log(common.LogWarning, "httpapi: unhandled error: "+err.Error())
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal_error", Detail: "internal error"})
}
