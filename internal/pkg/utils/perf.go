package utils

import (
	"net/http"
	"strconv"

	"github.com/airenas/go-app/pkg/goapp"

	_ "net/http/pprof"
)

// RunPerfEndpoint serves pprof on debug.port. Does nothing when the port is unset.
func RunPerfEndpoint() {
	port := goapp.Config.GetInt("debug.port")
	if port <= 0 {
		goapp.Log.Info().Msg("no debug.port - pprof endpoint disabled")
		return
	}
	goapp.Log.Info().Msgf("Starting pprof endpoint at [::]:%d", port)
	if err := http.ListenAndServe(":"+strconv.Itoa(port), nil); err != nil {
		goapp.Log.Error().Err(err).Msg("can't start pprof endpoint")
	}
}
