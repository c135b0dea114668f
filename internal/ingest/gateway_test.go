package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/fanout"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stanstork/sensorhub/internal/settings"
	"github.com/stanstork/sensorhub/internal/throttle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts map[string]string

func (f fakeAccounts) ResolveIdentityByToken(_ context.Context, token string) (string, bool, error) {
	id, ok := f[token]
	return id, ok, nil
}

type fakeSettings struct {
	s   models.NotificationSettings
	err error
}

func (f fakeSettings) Resolve(context.Context, string) (models.NotificationSettings, error) {
	return f.s, f.err
}

type fakeReadings struct {
	mu       sync.Mutex
	inserted []models.Reading
	err      error
}

func (f *fakeReadings) Insert(_ context.Context, r models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, r)
	return nil
}

type fakeAlerts struct {
	mu        sync.Mutex
	evaluated []models.Reading
}

func (f *fakeAlerts) Process(_ context.Context, _ string, r models.Reading, _ models.NotificationSettings) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated = append(f.evaluated, r)
	return nil, nil
}

type fakeRouter struct {
	mu    sync.Mutex
	bound map[string]fanout.Conn
	sent  []models.Reading
}

func (f *fakeRouter) Bind(identity string, conn fanout.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound == nil {
		f.bound = map[string]fanout.Conn{}
	}
	f.bound[identity] = conn
}

func (f *fakeRouter) Send(_ string, r models.Reading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, r)
}

type fixture struct {
	gw       *Gateway
	readings *fakeReadings
	alerts   *fakeAlerts
	router   *fakeRouter
	throttle *throttle.Controller
	clock    time.Time
}

func newFixture(t *testing.T, s fakeSettings) *fixture {
	t.Helper()
	f := &fixture{
		readings: &fakeReadings{},
		alerts:   &fakeAlerts{},
		router:   &fakeRouter{},
		throttle: throttle.NewController(throttle.NewMemoryStore(), 10*time.Minute),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.gw = NewGateway(Deps{
		Accounts: fakeAccounts{"tok": "a@x.com"},
		Settings: s,
		Readings: f.readings,
		Throttle: f.throttle,
		Alerts:   f.alerts,
		Router:   f.router,
	}, DefaultBounds(), zerolog.Nop())
	f.gw.now = func() time.Time { return f.clock }
	return f
}

func m(v float64) *Measurement {
	mv := Measurement(v)
	return &mv
}

func validRaw() RawReading {
	return RawReading{
		Token:        "tok",
		Temp:         m(22),
		AirHumidity:  m(50),
		SoilHumidity: m(40),
		FlammableGas: m(2),
		ToxicGas:     m(1),
		IsRaining:    m(0),
	}
}

func defaultSettings() fakeSettings {
	return fakeSettings{s: settings.Defaults()}
}

func TestIngest_TwoReadingsWithinWindow(t *testing.T) {
	f := newFixture(t, defaultSettings())

	first, err := f.gw.Ingest(context.Background(), validRaw(), SourceToken)
	require.NoError(t, err)
	f.clock = f.clock.Add(5 * time.Minute)
	second, err := f.gw.Ingest(context.Background(), validRaw(), SourceToken)
	require.NoError(t, err)

	assert.True(t, first.Persisted)
	assert.False(t, second.Persisted)
	assert.True(t, second.Accepted)
	assert.Equal(t, ReasonThrottled, second.Reason)
	assert.Len(t, f.readings.inserted, 1, "exactly one persisted")
	assert.Len(t, f.router.sent, 2, "both fanned out")
	assert.Len(t, f.alerts.evaluated, 2, "both evaluated")
}

func TestIngest_WindowFollowsSettings(t *testing.T) {
	s := settings.Defaults()
	s.RecordInterval = time.Minute
	f := newFixture(t, fakeSettings{s: s})

	_, _ = f.gw.Ingest(context.Background(), validRaw(), SourceToken)
	f.clock = f.clock.Add(2 * time.Minute)
	res, err := f.gw.Ingest(context.Background(), validRaw(), SourceToken)

	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Len(t, f.readings.inserted, 2)
}

func TestIngest_CanonicalReading(t *testing.T) {
	f := newFixture(t, defaultSettings())
	raw := validRaw()
	raw.IsRaining = m(1)

	res, err := f.gw.Ingest(context.Background(), raw, SourceToken)

	require.NoError(t, err)
	assert.Equal(t, "a@x.com", res.Identity)
	require.Len(t, f.readings.inserted, 1)
	got := f.readings.inserted[0]
	assert.Equal(t, "a@x.com", got.Identity)
	assert.True(t, got.IsRaining)
	assert.Equal(t, f.clock, got.Timestamp)
	assert.Equal(t, got, f.router.sent[0])
}

func TestIngest_ValidationHasNoSideEffects(t *testing.T) {
	cases := map[string]func(r *RawReading){
		"missing temp":      func(r *RawReading) { r.Temp = nil },
		"temp above bound":  func(r *RawReading) { r.Temp = m(51) },
		"negative humidity": func(r *RawReading) { r.AirHumidity = m(-1) },
		"gas above 100":     func(r *RawReading) { r.ToxicGas = m(100.5) },
		"not finite":        func(r *RawReading) { r.SoilHumidity = m(math.Inf(1)) },
		"rain flag 2":       func(r *RawReading) { r.IsRaining = m(2) },
		"rain flag missing": func(r *RawReading) { r.IsRaining = nil },
		"missing token":     func(r *RawReading) { r.Token = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, defaultSettings())
			raw := validRaw()
			mutate(&raw)

			res, err := f.gw.Ingest(context.Background(), raw, SourceToken)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.False(t, res.Accepted)
			assert.Empty(t, f.readings.inserted)
			assert.Empty(t, f.alerts.evaluated)
			assert.Empty(t, f.router.sent)
		})
	}
}

func TestIngest_BoundariesAccepted(t *testing.T) {
	f := newFixture(t, defaultSettings())
	raw := validRaw()
	raw.Temp = m(50)
	raw.AirHumidity = m(0)
	raw.ToxicGas = m(100)

	_, err := f.gw.Ingest(context.Background(), raw, SourceToken)

	assert.NoError(t, err)
}

func TestIngest_UnknownToken(t *testing.T) {
	f := newFixture(t, defaultSettings())
	raw := validRaw()
	raw.Token = "bogus"

	_, err := f.gw.Ingest(context.Background(), raw, SourceMQTT)

	assert.ErrorIs(t, err, ErrUnknownIdentity)
	assert.Empty(t, f.readings.inserted)
	assert.Empty(t, f.router.sent)
}

func TestIngest_SettingsFailureAborts(t *testing.T) {
	f := newFixture(t, fakeSettings{err: errors.New("db down")})

	_, err := f.gw.Ingest(context.Background(), validRaw(), SourceToken)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.alerts.evaluated)
	assert.Empty(t, f.router.sent)
}

func TestIngest_PersistFailureReleasesAdmission(t *testing.T) {
	f := newFixture(t, defaultSettings())
	f.readings.err = errors.New("disk full")

	_, err := f.gw.Ingest(context.Background(), validRaw(), SourceToken)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.router.sent)

	f.readings.err = nil
	f.clock = f.clock.Add(time.Second)
	res, err := f.gw.Ingest(context.Background(), validRaw(), SourceToken)

	require.NoError(t, err)
	assert.True(t, res.Persisted, "a failed write must not consume the window")
}

type nopConn struct{}

func (nopConn) Enqueue([]byte) bool { return true }
func (nopConn) Closed() bool        { return false }

func TestIngestLive_BindsAndRebinds(t *testing.T) {
	f := newFixture(t, defaultSettings())
	conn := nopConn{}
	raw := validRaw()
	raw.Token = ""
	raw.Identity = "a@x.com"

	res, err := f.gw.IngestLive(context.Background(), raw, conn)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", res.Identity)
	assert.Contains(t, f.router.bound, "a@x.com")

	raw.Identity = "b@x.com"
	_, err = f.gw.IngestLive(context.Background(), raw, conn)
	require.NoError(t, err)
	assert.Contains(t, f.router.bound, "b@x.com")
}

func TestIngestLive_MissingIdentity(t *testing.T) {
	f := newFixture(t, defaultSettings())
	raw := validRaw()
	raw.Token = ""

	_, err := f.gw.IngestLive(context.Background(), raw, nopConn{})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "email", verr.Field)
	assert.Empty(t, f.router.bound)
}

func TestRawReading_AcceptsNumericStrings(t *testing.T) {
	var raw RawReading
	err := json.Unmarshal([]byte(`{"token":"tok","temp":"21.5","air_humidity":60,"soil_humidity":"40","flammable_gas":0,"toxic_gas":0,"is_raining":"1"}`), &raw)
	require.NoError(t, err)

	r, err := raw.validate(DefaultBounds())
	require.NoError(t, err)
	assert.Equal(t, 21.5, r.Temp)
	assert.True(t, r.IsRaining)
}

func TestRawReading_AcceptsLegacyFieldNames(t *testing.T) {
	var raw RawReading
	err := json.Unmarshal([]byte(`{"email":"a@x.com","temp":24,"umidAr":55,"umidSolo":"35","gasInflamavel":3,"gasToxico":4,"estaChovendo":1}`), &raw)
	require.NoError(t, err)

	r, err := raw.validate(DefaultBounds())
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", raw.Identity)
	assert.Equal(t, 55.0, r.AirHumidity)
	assert.Equal(t, 35.0, r.SoilHumidity)
	assert.Equal(t, 3.0, r.FlammableGas)
	assert.Equal(t, 4.0, r.ToxicGas)
	assert.True(t, r.IsRaining)
}

func TestRawReading_CanonicalFieldWinsOverLegacy(t *testing.T) {
	var raw RawReading
	err := json.Unmarshal([]byte(`{"temp":24,"air_humidity":60,"umidAr":10,"soil_humidity":30,"flammable_gas":1,"toxic_gas":1,"is_raining":0,"estaChovendo":1}`), &raw)
	require.NoError(t, err)

	r, err := raw.validate(DefaultBounds())
	require.NoError(t, err)
	assert.Equal(t, 60.0, r.AirHumidity)
	assert.False(t, r.IsRaining)
}
