// Command predict uploads a fundus photograph to a running retina-api
// server and prints the diagnosis report.
package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/retina-api/internal/handlers"
	"github.com/Brownie44l1/retina-api/internal/prediction"
)

type errorResponse struct {
	Detail string `json:"detail"`
}

func main() {
	var (
		url     = flag.String("url", "http://localhost:8000", "Base URL of the retina-api server")
		image   = flag.String("image", "", "Path to the fundus image to classify")
		timeout = flag.Duration("timeout", 60*time.Second, "Request timeout")
		asJSON  = flag.Bool("json", false, "Print the raw JSON response instead of the report")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if *image == "" {
		flag.Usage()
		os.Exit(2)
	}

	result := &prediction.Result{}
	failure := &errorResponse{}
	resp, err := resty.New().
		SetTimeout(*timeout).
		R().
		SetFile(handlers.UploadField, *image).
		SetResult(result).
		SetError(failure).
		Post(strings.TrimRight(*url, "/") + "/predict")
	if err != nil {
		log.Fatal().Err(err).Str("image", *image).Msg("request failed")
	}
	if resp.IsError() {
		log.Fatal().Int("status", resp.StatusCode()).Str("detail", failure.Detail).Msg("prediction failed")
	}

	log.Info().Str("image", *image).Dur("elapsed", resp.Time()).Int("codes", result.Len()).Msg("prediction received")

	if *asJSON {
		os.Stdout.Write(resp.Body())
		os.Stdout.WriteString("\n")
		return
	}
	if err := prediction.WriteReport(os.Stdout, result); err != nil {
		log.Fatal().Err(err).Msg("failed to write report")
	}
}
