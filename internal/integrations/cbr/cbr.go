package cbr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/config"
	"github.com/Dan9191/sacco-service/internal/models"
)

const source = "cbr"

// CBRClient fetches the central bank key rate used to reprice loan products.
type CBRClient struct {
	url    string
	client *http.Client
	log    *logrus.Logger
	now    func() time.Time
}

// NewCBRClient initializes a new CBR client
func NewCBRClient(cfg *config.Config, log *logrus.Logger) *CBRClient {
	return &CBRClient{
		url: cfg.CBRURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
		now: time.Now,
	}
}

// buildSOAPRequest asks for the key rate history of the last 30 days
func (c *CBRClient) buildSOAPRequest() string {
	now := c.now()
	fromDate := now.AddDate(0, 0, -30).Format("2006-01-02")
	toDate := now.Format("2006-01-02")
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<KeyRate xmlns="http://web.cbr.ru/">
					<fromDate>%s</fromDate>
					<ToDate>%s</ToDate>
				</KeyRate>
			</soap12:Body>
		</soap12:Envelope>`, fromDate, toDate)
}

func (c *CBRClient) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debugf("CBR XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse extracts the latest observation; the service lists newest first.
func parseXMLResponse(rawBody []byte) (models.ReferenceRate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return models.ReferenceRate{}, fmt.Errorf("failed to parse XML: %w", err)
	}

	krElements := doc.FindElements("//diffgram/KeyRate/KR")
	if len(krElements) == 0 {
		return models.ReferenceRate{}, fmt.Errorf("no key rate data found in XML")
	}

	latest := krElements[0]
	rateElement := latest.FindElement("./Rate")
	if rateElement == nil {
		return models.ReferenceRate{}, fmt.Errorf("rate element not found in XML")
	}
	rate, err := decimal.NewFromString(rateElement.Text())
	if err != nil {
		return models.ReferenceRate{}, fmt.Errorf("failed to parse rate: %w", err)
	}

	out := models.ReferenceRate{Rate: rate, Source: source}
	if dt := latest.FindElement("./DT"); dt != nil {
		if at, err := time.Parse(time.RFC3339, dt.Text()); err == nil {
			out.Date = at
		}
	}
	return out, nil
}

// KeyRate retrieves the current key rate as an annual percentage.
func (c *CBRClient) KeyRate(ctx context.Context) (models.ReferenceRate, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return models.ReferenceRate{}, err
	}

	rate, err := parseXMLResponse(body)
	if err != nil {
		return models.ReferenceRate{}, err
	}
	if rate.Date.IsZero() {
		rate.Date = c.now()
	}

	c.log.WithFields(logrus.Fields{"rate": rate.Rate.String(), "date": rate.Date.Format("2006-01-02")}).Info("Retrieved key rate")
	return rate, nil
}
