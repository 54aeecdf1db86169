package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/cgmlink/internal/device"
	"github.com/srg/cgmlink/internal/identity"
	"github.com/srg/cgmlink/internal/testutils"
	"github.com/srg/cgmlink/internal/testutils/mocks"
	"github.com/srg/cgmlink/scanner"
	"github.com/stretchr/testify/require"
	suitelib "github.com/stretchr/testify/suite"
)

const sensorAddress = "C0:FF:EE:01:02:03"

type ScannerTestSuite struct {
	suitelib.Suite

	helper          *testutils.TestHelper
	originalFactory func() (device.ScanningDevice, error)
	radio           *testutils.FakeScanningDevice
	id              *identity.Identity

	sensor, other, heartRate *mocks.MockAdvertisement
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())

	id, err := identity.New(sensorAddress, "00112233445566778899aabbccddeeff")
	suite.Require().NoError(err)
	suite.id = id

	suite.sensor = mocks.NewMockAdvertisement("AA:BB:CC:DD:EE:01", "CGM 01", -50,
		[]byte{0x4c, 0x00, 0xc0, 0xff, 0xee, 0x01, 0x02, 0x03, 0x00, 0x01}, "181f")
	suite.other = mocks.NewMockAdvertisement("AA:BB:CC:DD:EE:02", "CGM 02", -70,
		[]byte{0x4c, 0x00, 0xde, 0xad, 0xbe, 0xef, 0x00, 0x00, 0x00, 0x01}, "0000181f-0000-1000-8000-00805f9b34fb")
	suite.heartRate = mocks.NewMockAdvertisement("11:22:33:44:55:66", "HRM", -60, nil, "180d")

	suite.radio = &testutils.FakeScanningDevice{}
	suite.originalFactory = scanner.DeviceFactory
	scanner.DeviceFactory = func() (device.ScanningDevice, error) { return suite.radio, nil }
}

func (suite *ScannerTestSuite) TearDownTest() {
	scanner.DeviceFactory = suite.originalFactory
}

func (suite *ScannerTestSuite) TestNewScanner() {
	suite.Run("creates scanner with provided logger", func() {
		s, err := scanner.NewScanner(suite.helper.Logger)
		suite.NoError(err)
		suite.NotNil(s)
	})

	suite.Run("creates scanner with nil logger", func() {
		s, err := scanner.NewScanner(nil)
		suite.NoError(err)
		suite.NotNil(s)
	})
}

func (suite *ScannerTestSuite) TestDefaultScanOptions() {
	opts := scanner.DefaultScanOptions()

	suite.Equal(10*time.Second, opts.Duration)
	suite.True(opts.DuplicateFilter)
	suite.Nil(opts.ServiceUUIDs)
	suite.Nil(opts.Identity)
	suite.False(opts.StopOnMatch)
}

func (suite *ScannerTestSuite) TestScanCollectsDevices() {
	suite.radio.Advertisements = []device.Advertisement{suite.sensor, suite.heartRate, suite.other, suite.sensor}
	s, err := scanner.NewScanner(suite.helper.Logger)
	suite.Require().NoError(err)

	var phases []string
	devs, err := s.Scan(context.Background(), &scanner.ScanOptions{DuplicateFilter: true}, func(p string) {
		phases = append(phases, p)
	})
	suite.Require().NoError(err)
	suite.Require().Len(devs, 3)
	suite.Equal("11:22:33:44:55:66", devs[0].Address())
	suite.Equal("AA:BB:CC:DD:EE:01", devs[1].Address())
	suite.Equal("CGM 01", devs[1].Name())
	suite.Equal(-50, devs[1].RSSI())
	suite.Equal([]string{"Scanning", "Processing results"}, phases)
	suite.False(suite.radio.AllowDup)

	var types []scanner.DeviceEventType
	for i := 0; i < 4; i++ {
		ev := <-s.Events()
		types = append(types, ev.Type)
	}
	suite.Equal([]scanner.DeviceEventType{scanner.EventNew, scanner.EventNew, scanner.EventNew, scanner.EventUpdated}, types)
}

func (suite *ScannerTestSuite) TestScanFilters() {
	suite.radio.Advertisements = []device.Advertisement{suite.sensor, suite.heartRate, suite.other}

	tests := []struct {
		name string
		opts *scanner.ScanOptions
		want []string
	}{
		{
			name: "service filter matches short and full UUIDs",
			opts: scanner.CGMServiceOptions(0),
			want: []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"},
		},
		{
			name: "allow list is case insensitive",
			opts: &scanner.ScanOptions{AllowList: []string{"aa:bb:cc:dd:ee:02"}},
			want: []string{"AA:BB:CC:DD:EE:02"},
		},
		{
			name: "block list",
			opts: &scanner.ScanOptions{BlockList: []string{"11:22:33:44:55:66"}},
			want: []string{"AA:BB:CC:DD:EE:01", "AA:BB:CC:DD:EE:02"},
		},
		{
			name: "identity",
			opts: &scanner.ScanOptions{Identity: suite.id},
			want: []string{"AA:BB:CC:DD:EE:01"},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			s, err := scanner.NewScanner(suite.helper.Logger)
			suite.Require().NoError(err)

			devs, err := s.Scan(context.Background(), tt.opts, nil)
			suite.Require().NoError(err)

			var got []string
			for _, d := range devs {
				got = append(got, d.Address())
			}
			suite.Equal(tt.want, got)
		})
	}
}

func (suite *ScannerTestSuite) TestFind() {
	suite.Run("stops at first match", func() {
		suite.radio.Advertisements = []device.Advertisement{suite.heartRate, suite.sensor, suite.other}
		suite.radio.Block = true

		s, err := scanner.NewScanner(suite.helper.Logger)
		suite.Require().NoError(err)

		start := time.Now()
		dev, err := s.Find(context.Background(), suite.id, 5*time.Second)
		suite.Require().NoError(err)
		suite.Equal("AA:BB:CC:DD:EE:01", dev.Address())
		suite.Less(time.Since(start), time.Second)
	})

	suite.Run("not found within timeout", func() {
		suite.radio.Advertisements = []device.Advertisement{suite.heartRate, suite.other}
		suite.radio.Block = true

		s, err := scanner.NewScanner(suite.helper.Logger)
		suite.Require().NoError(err)

		_, err = s.Find(context.Background(), suite.id, 20*time.Millisecond)
		suite.ErrorIs(err, scanner.ErrSensorNotFound)
		suite.ErrorContains(err, sensorAddress)
	})

	suite.Run("caller cancellation", func() {
		suite.radio.Advertisements = nil
		suite.radio.Block = true

		s, err := scanner.NewScanner(suite.helper.Logger)
		suite.Require().NoError(err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = s.Find(ctx, suite.id, time.Second)
		suite.ErrorIs(err, context.Canceled)
	})
}

func (suite *ScannerTestSuite) TestScanErrors() {
	suite.Run("radio failure", func() {
		suite.radio.Err = device.ErrBluetoothOff
		s, err := scanner.NewScanner(suite.helper.Logger)
		suite.Require().NoError(err)

		_, err = s.Scan(context.Background(), nil, nil)
		suite.ErrorIs(err, device.ErrBluetoothOff)
		suite.ErrorContains(err, "scan failed")
	})

	suite.Run("factory failure", func() {
		scanner.DeviceFactory = func() (device.ScanningDevice, error) { return nil, errors.New("no adapter") }
		s, err := scanner.NewScanner(suite.helper.Logger)
		suite.Require().NoError(err)

		_, err = s.Scan(context.Background(), nil, nil)
		suite.ErrorContains(err, "failed to create BLE device: no adapter")
	})
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}

func TestMatchesIdentity(t *testing.T) {
	id, err := identity.New(sensorAddress, "00112233445566778899aabbccddeeff")
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"address between prefix and suffix", []byte{0x4c, 0x00, 0xc0, 0xff, 0xee, 0x01, 0x02, 0x03, 0xaa, 0xbb}, true},
		{"other address", []byte{0x4c, 0x00, 0xc0, 0xff, 0xee, 0x01, 0x02, 0x04, 0xaa, 0xbb}, false},
		{"extra byte", []byte{0x4c, 0x00, 0xc0, 0xff, 0xee, 0x01, 0x02, 0x03, 0x00, 0xaa, 0xbb}, false},
		{"too short", []byte{0x4c, 0x00, 0xaa, 0xbb}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, scanner.MatchesIdentity(tt.data, id))
		})
	}
	require.False(t, scanner.MatchesIdentity([]byte{1, 2, 3, 4, 5, 6}, nil))
}
