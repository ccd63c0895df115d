package cbr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/sacco-service/internal/config"
)

const keyRateResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
    <KeyRateResponse xmlns="http://web.cbr.ru/">
      <KeyRateResult>
        <diffgr:diffgram xmlns:diffgr="urn:schemas-microsoft-com:xml-diffgram-v1">
          <KeyRate xmlns="">
            <KR><DT>2026-01-14T00:00:00+03:00</DT><Rate>16.50</Rate></KR>
            <KR><DT>2026-01-13T00:00:00+03:00</DT><Rate>17.00</Rate></KR>
          </KeyRate>
        </diffgr:diffgram>
      </KeyRateResult>
    </KeyRateResponse>
  </soap:Body>
</soap:Envelope>`

func newTestClient(t *testing.T, handler http.HandlerFunc) *CBRClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := NewCBRClient(&config.Config{CBRURL: srv.URL}, log)
	c.now = func() time.Time { return time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestKeyRate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<fromDate>2025-12-16</fromDate>")
		assert.Equal(t, "http://web.cbr.ru/KeyRate", r.Header.Get("SOAPAction"))
		_, _ = w.Write([]byte(keyRateResponse))
	})

	rate, err := c.KeyRate(context.Background())
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("16.5")), "newest observation, no margin added")
	assert.Equal(t, "cbr", rate.Source)
	assert.Equal(t, 14, rate.Date.Day())
}

func TestKeyRateErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.KeyRate(context.Background())
	require.Error(t, err)

	_, err = parseXMLResponse([]byte(strings.ReplaceAll(keyRateResponse, "<Rate>16.50</Rate>", "<Rate>n/a</Rate>")))
	require.Error(t, err)

	_, err = parseXMLResponse([]byte(`<Envelope/>`))
	require.Error(t, err)
}
