package contractmatch

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/klipach/contractmatch/log"
)

var (
	setupOnce sync.Once
	handler   http.Handler
	setupErr  error
)

func init() {
	functions.HTTP("Api", Api)
}

// Api is the Cloud Function entry point. Dependencies are built on the
// first request and shared by every request of the instance.
func Api(w http.ResponseWriter, r *http.Request) {
	setupOnce.Do(func() {
		handler, setupErr = setup(context.Background())
	})
	if setupErr != nil {
		log.LoggerFromContext(r.Context()).Error("error while setting up", slog.String(log.ErrorMsgLogField, setupErr.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
