package legacyjsonp

import (
	"testing"
	"time"

	"github.com/BearBump/ParcelPoll/internal/integrations/upstream"
	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type AdapterSuite struct {
	suite.Suite
	now time.Time
	a   *Adapter
}

func (s *AdapterSuite) SetupTest() {
	s.now = time.Date(2025, 6, 10, 22, 30, 0, 0, time.UTC)
	s.a = New("https://legacy.example/orders", "tok").WithClock(func() time.Time { return s.now })
}

func (s *AdapterSuite) decode(body string) ([]models.DeliveryRecord, error) {
	return s.a.Decode(httpclient.Response{StatusCode: 200, Body: []byte(body)})
}

func (s *AdapterSuite) TestRequest() {
	req := s.a.Request()
	s.Equal("https://legacy.example/orders", req.URL)
	s.Equal("account_token=tok", req.Header.Get("Cookie"))
	s.Equal(models.UpstreamLegacy, s.a.Kind())
}

func (s *AdapterSuite) TestDecode_WrappedDeliveredUPS() {
	recs, err := s.decode(`jQuery123(( [[ "N1","Widget","ups",null,[["delivered"]],"2024-01-01 00:00:00"] ]))`)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal("N1", recs[0].Identifier)
	s.Equal("Widget", *recs[0].Description)
	s.Equal("UPS", recs[0].Carrier)
	s.Equal(models.DeliveryStatusDelivered, recs[0].Status)
	s.Equal("delivered", recs[0].LatestEvent)
	s.Require().Len(recs[0].Events, 1)
}

func (s *AdapterSuite) TestDecode_WrappedEqualsUnwrapped() {
	payloads := []string{
		`[[["A1","Book","fedex",0,[["In transit","2025-06-09 10:00:00","Leipzig"],["Picked up"]],"2025-06-13 12:00:00"],[42,"Lamp","zz",0,[],"bad date"]]]`,
		`[["N1","Widget","ups",null,[["Delivered to mailbox"]],"2024-01-01 00:00:00"]]`,
		`[[["B2",null,"dhl"]]]`,
	}
	for _, p := range payloads {
		plain, err := s.decode(p)
		s.Require().NoError(err, p)
		wrapped, err := s.decode("jQuery1710_123(" + p + ");")
		s.Require().NoError(err, p)
		s.Equal(plain, wrapped, p)
	}
}

func (s *AdapterSuite) TestDecode_CanonicalShapeAndCountdown() {
	recs, err := s.decode(`[[
  ["A1","Book","fedex",0,[["In transit","2025-06-09 10:00:00","Leipzig"],["Picked up"]],"2025-06-13 01:00:00"],
  [42,"Lamp","zz",0,[],"2025-06-11 00:00:01"],
  ["C3","Chair","dpd",0,[["Label created"]],"2025-06-10 23:59:59"],
  ["D4","Desk","gls",0,[["Label created"]],"2025-06-01 12:00:00"]
]]`)
	s.Require().NoError(err)
	s.Require().Len(recs, 4)

	s.Equal("FedEx", recs[0].Carrier)
	s.Equal("3 days", recs[0].Status)
	s.Equal("In transit", recs[0].LatestEvent)
	s.Equal("2025-06-09 10:00:00", recs[0].LatestDate)
	s.Equal("Leipzig", *recs[0].LatestLocation)
	s.Require().Len(recs[0].Events, 2)
	s.Equal("Picked up", recs[0].Events[1].Event)
	s.Equal("2025-06-13 01:00:00", *recs[0].ExpectedDate)

	s.Equal("42", recs[1].Identifier)
	s.Equal("zz", recs[1].Carrier)
	s.Equal("1 day", recs[1].Status)
	s.Equal(models.NoEventsText, recs[1].LatestEvent)

	// same calendar day and past dates never count down
	s.Equal(models.DeliveryStatusUnknown, recs[2].Status)
	s.Equal(models.DeliveryStatusUnknown, recs[3].Status)
}

func (s *AdapterSuite) TestDecode_BadDateLeavesUnknown() {
	recs, err := s.decode(`[[["A1","Book","fedex",0,[["Shipped"]],"13/06/2025"]]]`)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(models.DeliveryStatusUnknown, recs[0].Status)
}

func (s *AdapterSuite) TestDecode_SkipsMalformedRows() {
	recs, err := s.decode(`[[["A1","Book","fedex"],"garbage",["short"],[null,"x","y"],["B2","Pen","ups"]]]`)
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal("A1", recs[0].Identifier)
	s.Equal("B2", recs[1].Identifier)
	s.Equal(models.DeliveryStatusUnknown, recs[0].Status)
}

func (s *AdapterSuite) TestDecode_StatusComesFromFirstUpstreamEvent() {
	recs, err := s.decode(`[[
  ["N1","W","ups",null,[[],["delivered"]],"2025-06-12 00:00:00"],
  ["N2","W","ups",null,["garbage",["Delivered"]],null]
]]`)
	s.Require().NoError(err)
	s.Require().Len(recs, 2)

	s.Equal("2 days", recs[0].Status)
	s.Equal(models.NoEventsText, recs[0].LatestEvent)
	s.Require().Len(recs[0].Events, 2)
	s.Empty(recs[0].Events[0].Event)
	s.JSONEq(`[]`, string(recs[0].Events[0].Payload))
	s.Equal("delivered", recs[0].Events[1].Event)

	s.Equal(models.DeliveryStatusUnknown, recs[1].Status)
	s.Require().Len(recs[1].Events, 2)
	s.JSONEq(`"garbage"`, string(recs[1].Events[0].Payload))
}

func (s *AdapterSuite) TestDecode_ParseErrors() {
	for _, body := range []string{``, `jQuery(`, `cb({"a":)`, `not json at all`} {
		_, err := s.decode(body)
		s.Require().ErrorIs(err, upstream.ErrParse, body)
	}
}

func (s *AdapterSuite) TestDecode_FormatErrors() {
	for _, body := range []string{`{"orders":[]}`, `[]`, `[[]]`, `cb([])`, `["x"]`, `[null]`} {
		_, err := s.decode(body)
		s.Require().ErrorIs(err, upstream.ErrFormat, body)
	}
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

func TestUnwrap(t *testing.T) {
	require.Equal(t, `[1]`, string(unwrap([]byte(` cb([1]) `))))
	require.Equal(t, `[1]`, string(unwrap([]byte(`cb(([1]));`))))
	require.Equal(t, `[1]`, string(unwrap([]byte(`[1]`))))
	require.Equal(t, `{"a":"(x)"}`, string(unwrap([]byte(`{"a":"(x)"}`))))
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2025, 6, 10, 23, 59, 0, 0, time.UTC)
	require.Equal(t, 1, daysUntil(now, time.Date(2025, 6, 11, 0, 1, 0, 0, time.UTC)))
	require.Equal(t, 0, daysUntil(now, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, -9, daysUntil(now, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 21, daysUntil(now, time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)))
}
