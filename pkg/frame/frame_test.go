package frame

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mgmtHeaderBytes(subtype uint8) []byte {
	buf := make([]byte, mgmtHeaderLen)
	fc := uint16(TypeManagement)<<2 | uint16(subtype)<<4
	buf[0] = byte(fc)
	buf[1] = byte(fc >> 8)
	for i := 4; i < 22; i++ {
		buf[i] = byte(i)
	}
	return buf
}

func ie(id uint8, data []byte) []byte {
	return append([]byte{id, byte(len(data))}, data...)
}

func TestParseMgmtHeader(t *testing.T) {
	buf := mgmtHeaderBytes(SubtypeAssocReq)
	buf = append(buf, 0xAA, 0xBB)
	h, rest, err := ParseMgmtHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(TypeManagement), h.FC.Type)
	assert.Equal(t, uint8(SubtypeAssocReq), h.FC.Subtype)
	assert.Equal(t, []byte{0xAA, 0xBB}, rest)
}

// TestParseMgmtHeaderMatchesGopacketDot11Layer cross-checks our hand-rolled
// header decode against gopacket's own 802.11 layer for the same bytes,
// so a future change to the field layout can't silently drift from the
// wire format everyone else's tooling agrees on.
func TestParseMgmtHeaderMatchesGopacketDot11Layer(t *testing.T) {
	buf := mgmtHeaderBytes(SubtypeAssocReq)

	h, _, err := ParseMgmtHeader(buf)
	require.NoError(t, err)

	packet := gopacket.NewPacket(buf, layers.LayerTypeDot11, gopacket.Default)
	dot11Layer := packet.Layer(layers.LayerTypeDot11)
	require.NotNil(t, dot11Layer)
	dot11, ok := dot11Layer.(*layers.Dot11)
	require.True(t, ok)

	assert.Equal(t, dot11.Address1.String(), h.DA.String())
	assert.Equal(t, dot11.Address2.String(), h.SA.String())
	assert.Equal(t, dot11.Address3.String(), h.BSSID.String())
}

func TestParseMgmtHeaderTooShort(t *testing.T) {
	_, _, err := ParseMgmtHeader(make([]byte, 10))
	require.Error(t, err)
}

func TestWalkIEsMalformedOverrun(t *testing.T) {
	body := []byte{1, 5, 0, 0} // claims 5 bytes of data, only 2 present
	err := WalkIEs(body, func(IE) error { return nil })
	assert.Error(t, err)
}

func TestParseAssocRequestExtractsCapabilities(t *testing.T) {
	var body []byte
	body = append(body, ie(IEHTCap, []byte{0x02, 0x00})...)                    // B1 set -> 40MHz
	body = append(body, ie(IEVHTCap, []byte{0x04, 0x00, 0x00, 0x00})...)       // width set = 1 -> 160
	body = append(body, ie(IESupportedOpClasses, []byte{81, 115, 116})...)
	body = append(body, ie(IERRMEnabledCap, []byte{0x32})...) // bits 1,4,5 set
	body = append(body, ie(IEExtCap, []byte{0, 0, 0x08})...) // bit 19 (byte 2, bit 3)
	mbo := append([]byte{0x50, 0x6F, 0x9A, 0x16}, []byte{0x03, 0x01, 0x03}...) // cell cap attr = incapable
	body = append(body, ie(IEVendorSpecific, mbo)...)

	info, err := ParseAssocRequest(body)
	require.NoError(t, err)

	require.NotNil(t, info.HT)
	assert.True(t, info.HT.Supports40MHz)

	require.NotNil(t, info.VHT)

	require.NotNil(t, info.OpClasses)
	assert.Equal(t, uint8(81), info.OpClasses.Primary)
	assert.Equal(t, []uint8{115, 116}, info.OpClasses.Classes)

	require.NotNil(t, info.RRM)
	assert.True(t, info.RRM.NeighborReport)

	require.NotNil(t, info.ExtCap)
	assert.True(t, info.ExtCap.BSSTransition)

	assert.True(t, info.MBO.Present)
	assert.Equal(t, CellCapIncapable, info.MBO.CellCapability)
}

func TestParseAssocRequestMalformedIEAborts(t *testing.T) {
	body := []byte{IEHTCap, 10, 0, 0} // claims 10 bytes, overrun
	_, err := ParseAssocRequest(body)
	assert.Error(t, err)
}

func TestParseBTMRequestRoundTrip(t *testing.T) {
	body := []byte{
		0x07,       // dialog token
		0b00000111, // pref|abridged|disassoc_imminent
		0x0A, 0x00, // disassoc timer = 10
		0xFF, // valid interval
	}
	req, err := ParseBTMRequest(body)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), req.DialogToken)
	assert.True(t, req.Pref)
	assert.True(t, req.Abridged)
	assert.True(t, req.DisassocImminent)
	assert.False(t, req.BSSTerm)
	assert.Equal(t, uint16(10), req.DisassocTimer)
	assert.Equal(t, uint8(255), req.ValidInterval)
}

func TestParseActionDiscriminatesBTM(t *testing.T) {
	body := append([]byte{CategoryWNM, ActionBTMRequest}, 0x01, 0x00, 0x00, 0x00, 0xFF)
	a, err := ParseAction(body)
	require.NoError(t, err)
	assert.Equal(t, uint8(CategoryWNM), a.Category)
	assert.Equal(t, uint8(ActionBTMRequest), a.Action)

	req, err := ParseBTMRequest(a.Body)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), req.DialogToken)
}

func TestParseWNMNotificationRequest(t *testing.T) {
	body := []byte{0x01, WNMNotifyVendorSpecific, 0xDE, 0xAD}
	req, err := ParseWNMNotificationRequest(body)
	require.NoError(t, err)
	assert.Equal(t, uint8(WNMNotifyVendorSpecific), req.Type)
	assert.Equal(t, []byte{0xDE, 0xAD}, req.Subelements)
}

func TestParseRRMBeaconReport(t *testing.T) {
	fields := make([]byte, rrmBeaconReportFixedLen)
	fields[0] = 81   // op class
	fields[1] = 6    // channel
	fields[13] = 200 // rcpi
	fields[14] = 10  // rsni
	copy(fields[15:21], []byte{1, 2, 3, 4, 5, 6})

	measurement := append([]byte{0x01, 0x00, BeaconReportMeasurementType}, fields...)
	body := append([]byte{0x09}, ie(MeasurementReportElementID, measurement)...)

	report, err := ParseRRMBeaconReport(body)
	require.NoError(t, err)
	assert.Equal(t, uint8(81), report.OpClass)
	assert.Equal(t, uint8(6), report.Channel)
	assert.Equal(t, uint8(200), report.RCPI)
	assert.Equal(t, uint8(10), report.RSNI)
	assert.Equal(t, "01:02:03:04:05:06", report.BSSID.String())
}

func TestParseRRMBeaconReportNotFound(t *testing.T) {
	body := []byte{0x09}
	_, err := ParseRRMBeaconReport(body)
	assert.Error(t, err)
}
