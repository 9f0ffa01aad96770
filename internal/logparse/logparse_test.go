package logparse

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

const ictLog = `{@BATCH|AB-123|A|FX12|2|TH-300|ict|B001|op7|ctl1|TP-55|3|PNL|A
{@BTEST|V1024001000123A|00|240131102233|12|0|all|0|0|0|240131102245||1|V1024001000123A
{@BLOCK|17%r12|00
{@A-RES|00|+1.000E+03{@LIM2|+1.100E+03|+9.000E+02}}
}
{@BLOCK|18%c5|00
{@A-CAP|00|+1.0E-07|c5a{@LIM3|+1.0E-07|+1.2E-07|+8.0E-08}}
}
{@TS|0|0|0|0}
}
{@BTEST|V1024001000124A|06|240131102246|12|0|all|0|0|0|240131102258||2|V1024001000123A
{@BLOCK|17%r12|06
{@A-RES|06|+2.000E+03{@LIM2|+1.100E+03|+9.000E+02}}
}
}
}`

func TestICTDecode(t *testing.T) {
	recs, err := Default().Parse([]byte(ictLog), model.FamilyICT)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	want := []*model.TestRecord{
		{
			Serial:    "V1024001000123A",
			Family:    model.FamilyICT,
			Outcome:   model.OutcomePass,
			Timestamp: time.Date(2024, 1, 31, 10, 22, 33, 0, time.UTC),
			Equipment: "2",
			SWVersion: "TP-55 3",
			Board:     1,
			Panel:     "V1024001000123A",
			Measurements: []model.Measurement{
				{Name: "r12", Value: 1000, Unit: "Ohm", High: floatPtr(1100), Low: floatPtr(900), Passed: true},
				{Name: "c5%c5a", Value: 1e-7, Unit: "F", High: floatPtr(1.2e-7), Low: floatPtr(8e-8), Passed: true},
				{Name: "shorts", Passed: true},
			},
		},
		{
			Serial:    "V1024001000124A",
			Family:    model.FamilyICT,
			Outcome:   model.OutcomeFail,
			Timestamp: time.Date(2024, 1, 31, 10, 22, 46, 0, time.UTC),
			Equipment: "2",
			SWVersion: "TP-55 3",
			Board:     2,
			Panel:     "V1024001000123A",
			Notes:     "Failed: r12",
			Measurements: []model.Measurement{
				{Name: "r12", Value: 2000, Unit: "Ohm", High: floatPtr(1100), Low: floatPtr(900), Passed: false},
			},
		},
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Errorf("ICT records mismatch (-want +got):\n%s", diff)
	}
}

func TestICTDecode_StatusNameWhenNoFailedStep(t *testing.T) {
	log := `{@BATCH|AB|A|FX|1|TH|ict|B|op|ctl|TP|1|PNL|A
{@BTEST|V1024001000125A|81|240131102233|1|0|all|0|0|0|240131102234||1|}
}`
	recs, err := Default().Parse([]byte(log), "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.OutcomeFail, recs[0].Outcome)
	assert.Equal(t, "Failed: aborted_(STOP)", recs[0].Notes)
}

func TestICTDecode_Truncated(t *testing.T) {
	for _, tc := range []struct {
		name string
		log  string
	}{
		{"cut mid record", ictLog[:len(ictLog)/2]},
		{"short batch", "{@BATCH|AB|A}"},
		{"no btest", "{@BATCH|AB|A|FX|1|TH|ict|B|op|ctl|TP|1|PNL|A}"},
		{"bad datetime", `{@BATCH|AB|A|FX|1|TH|ict|B|op|ctl|TP|1|PNL|A
{@BTEST|V1|00|24013110|1|0|all|0|0|0|240131102234||1|}}`},
		{"bad analog value", `{@BATCH|AB|A|FX|1|TH|ict|B|op|ctl|TP|1|PNL|A
{@BTEST|V1|00|240131102233|1|0|all|0|0|0|240131102234||1|
{@BLOCK|r1|00{@A-RES|00|garbage}}}}`},
		{"stray close", "{@BATCH|AB|A|FX|1|TH|ict|B|op|ctl|TP|1|PNL|A}}"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := Default().Parse([]byte(tc.log), model.FamilyICT)
			require.Error(t, err)
			assert.Nil(t, recs)
			assert.True(t, errors.Is(err, ErrTruncated), "got %v", err)
		})
	}
}

func TestStripTestIndex(t *testing.T) {
	for in, want := range map[string]string{
		"17%c617": "c617",
		"r12":     "r12",
		"%x":      "x",
	} {
		assert.Equal(t, want, stripTestIndex(in), in)
	}
}

const fctLog = "SerialNumber;V1024001000123A\r\n" +
	"Part Type;FW 1.4.2\r\n" +
	"MES;1\r\n" +
	"Start Time;2024.01.31. 10:22\r\n" +
	"Testing time(sec);45\r\n" +
	"Result;Failed\r\n" +
	"Error Code;12\r\n" +
	"Steps;3\r\n" +
	"StepName;Min;Measured;Max;Unit;Result\r\n" +
	"Supply current;100;250;300;mA;Passed\r\n" +
	"Oscillator;9;10;11;kHz;Passed\r\n" +
	"Temp sensor\xb0;20;40;30;\xb0C;Failed\r\n"

func TestFCTDecode(t *testing.T) {
	recs, err := Default().Parse([]byte(fctLog), "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, model.FamilyFCT, rec.Family)
	assert.Equal(t, "V1024001000123A", rec.Serial)
	assert.Equal(t, "FW 1.4.2", rec.SWVersion)
	assert.Equal(t, model.OutcomeFail, rec.Outcome)
	assert.Equal(t, time.Date(2024, 1, 31, 10, 22, 45, 0, time.UTC), rec.Timestamp)
	assert.False(t, rec.Suspect)
	assert.Equal(t, "Failed: Temp sensor°", rec.Notes)

	want := []model.Measurement{
		{Name: "Supply current", Value: 0.25, Unit: "A", Low: floatPtr(0.1), High: floatPtr(0.3), Passed: true},
		{Name: "Oscillator", Value: 10000, Unit: "Hz", Low: floatPtr(9000), High: floatPtr(11000), Passed: true},
		{Name: "Temp sensor°", Value: 40, Unit: "°C", Low: floatPtr(20), High: floatPtr(30), Passed: false},
	}
	if diff := cmp.Diff(want, rec.Measurements, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("FCT steps mismatch (-want +got):\n%s", diff)
	}
}

func TestFCTDecode_StepCountMismatchIsSuspect(t *testing.T) {
	log := strings.Replace(fctLog, "Steps;3", "Steps;5", 1)
	recs, err := Default().Parse([]byte(log), model.FamilyFCT)
	require.NoError(t, err)
	assert.True(t, recs[0].Suspect)
}

func TestFCTDecode_Truncated(t *testing.T) {
	for _, tc := range []struct {
		name string
		log  string
	}{
		{"no steps", "SerialNumber;V1\r\nStart Time;2024.01.31. 10:22\r\nResult;Passed\r\n"},
		{"no start time", "SerialNumber;V1\r\nResult;Passed\r\nA;1;2;3;V;Passed\r\n"},
		{"no result", "SerialNumber;V1\r\nStart Time;2024.01.31. 10:22\r\nA;1;2;3;V;Passed\r\n"},
		{"bad measured value", "SerialNumber;V1\r\nStart Time;2024.01.31. 10:22\r\nResult;Passed\r\nA;1;x;3;V;Passed\r\n"},
		{"cut after header", fctLog[:60]},
	} {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := Default().Parse([]byte(tc.log), model.FamilyFCT)
			require.Error(t, err)
			assert.Nil(t, recs)
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

const aoiXML = `<?xml version="1.0" encoding="UTF-8"?>
<AOIResult>
  <GlobalInformation>
    <Station><Name>AOI-LINE2</Name></Station>
    <Program><InspectionPlanName>PLAN-A</InspectionPlanName><VariantName>TOP</VariantName></Program>
    <Inspection>
      <Date><End>20240131</End></Date>
      <Time><End>102233</End></Time>
    </Inspection>
  </GlobalInformation>
  <PCBInformation Count="2">
    <SinglePCB><PCBNumber>1</PCBNumber><Barcode>V1024001000123A</Barcode><Result>PASS</Result></SinglePCB>
    <SinglePCB><PCBNumber>2</PCBNumber><Barcode>V1024001000124A</Barcode><Result>FAIL</Result></SinglePCB>
  </PCBInformation>
  <ComponentInformation>
    <Window><WinID>C12</WinID><WinType>Chip</WinType><PCBNumber>2</PCBNumber><MacroName>R0402_3D_GENR_30_15</MacroName><Analysis><Result>3</Result></Analysis></Window>
    <Window><WinID>C13</WinID><WinType>Chip</WinType><PCBNumber>2</PCBNumber><MacroName>R0402_3D_GENR_30_15</MacroName><Analysis><Result>0</Result></Analysis></Window>
  </ComponentInformation>
</AOIResult>`

func TestAOIDecode(t *testing.T) {
	recs, err := Default().Parse([]byte(aoiXML), "")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, model.FamilyAOI, recs[0].Family)
	assert.Equal(t, "V1024001000123A", recs[0].Serial)
	assert.Equal(t, model.OutcomePass, recs[0].Outcome)
	assert.Equal(t, "AOI-LINE2", recs[0].Equipment)
	assert.Equal(t, "PLAN-A TOP", recs[0].SWVersion)
	assert.Equal(t, time.Date(2024, 1, 31, 10, 22, 33, 0, time.UTC), recs[0].Timestamp)
	assert.Empty(t, recs[0].Measurements)

	assert.Equal(t, model.OutcomeFail, recs[1].Outcome)
	assert.Equal(t, 2, recs[1].Board)
	require.Len(t, recs[1].Measurements, 1)
	assert.Equal(t, "GENR:C12", recs[1].Measurements[0].Name)
	assert.Equal(t, "Failed: GENR:C12", recs[1].Notes)
	assert.False(t, recs[1].Suspect)
}

func TestAOIDecode_CountMismatchIsSuspect(t *testing.T) {
	log := strings.Replace(aoiXML, `Count="2"`, `Count="3"`, 1)
	recs, err := Default().Parse([]byte(log), model.FamilyAOI)
	require.NoError(t, err)
	for _, r := range recs {
		assert.True(t, r.Suspect, r.Serial)
	}
}

func TestAOIDecode_Truncated(t *testing.T) {
	recs, err := Default().Parse([]byte(aoiXML[:len(aoiXML)-200]), model.FamilyAOI)
	assert.Nil(t, recs)
	assert.ErrorIs(t, err, ErrTruncated)

	noStation := strings.Replace(aoiXML, "<Name>AOI-LINE2</Name>", "", 1)
	_, err = Default().Parse([]byte(noStation), model.FamilyAOI)
	assert.ErrorIs(t, err, ErrTruncated)
}

const smtXML = `<?xml version="1.0" encoding="UTF-8"?>
<VvExtDataExportXml>
  <DataModel Name="PROD-7" Variant="V2" Barcode="PNL-001" BoardCount="2">
    <Inspection InspectionStart="2024-01-31T10:20:00" InspectionEnd="2024-01-31T10:21:30" InspectionAborted="false"/>
    <Object Class="Panel" Name="Panel">
      <Status><Overall IsFailed="true"/><Inspection IsInspectionFailed="true"/></Status>
      <Object Class="Board" Name="1" Barcode="V1024001000123A">
        <Status><Overall IsFailed="false"/><Inspection IsInspectionFailed="false"/></Status>
      </Object>
      <Object Class="Board" Name="2" Barcode="V1024001000124A">
        <Status><Overall IsFailed="true"/><Inspection IsInspectionFailed="true"/></Status>
        <Object Class="Comp" Name="U1" Type="QFN">
          <Status><Overall IsFailed="true"/></Status>
        </Object>
        <Object Class="Comp" Name="R3" Type="0402">
          <Status><Overall IsFailed="false"/></Status>
        </Object>
      </Object>
    </Object>
  </DataModel>
</VvExtDataExportXml>`

func TestSMTDecode(t *testing.T) {
	recs, err := Default().Parse([]byte(smtXML), "")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, model.FamilySMT, recs[0].Family)
	assert.Equal(t, model.OutcomePass, recs[0].Outcome)
	assert.Equal(t, "PNL-001", recs[0].Panel)
	assert.Equal(t, "PROD-7 V2", recs[0].SWVersion)
	assert.Equal(t, time.Date(2024, 1, 31, 10, 21, 30, 0, time.UTC), recs[0].Timestamp)

	assert.Equal(t, "V1024001000124A", recs[1].Serial)
	assert.Equal(t, model.OutcomeFail, recs[1].Outcome)
	assert.Equal(t, 2, recs[1].Board)
	assert.Equal(t, "Failed: U1", recs[1].Notes)
}

func TestSMTDecode_Truncated(t *testing.T) {
	noStatus := strings.Replace(smtXML, `<Status><Overall IsFailed="false"/><Inspection IsInspectionFailed="false"/></Status>`, "", 1)
	_, err := Default().Parse([]byte(noStatus), model.FamilySMT)
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Default().Parse([]byte(smtXML[:300]), model.FamilySMT)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestParse_UnrecognizedFormat(t *testing.T) {
	for _, tc := range []struct {
		name   string
		data   string
		format model.Family
	}{
		{"sniff nothing", "hello world", ""},
		{"declared ict, got fct", fctLog, model.FamilyICT},
		{"declared fct, got xml", aoiXML, model.FamilyFCT},
		{"unregistered", ictLog, model.Family("xray")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := Default().Parse([]byte(tc.data), tc.format)
			assert.Nil(t, recs)
			assert.ErrorIs(t, err, ErrUnrecognizedFormat)
			var pe *ParseError
			assert.ErrorAs(t, err, &pe)
		})
	}
}

func TestRegistry_Detect(t *testing.T) {
	r := Default()
	for data, want := range map[string]model.Family{
		"  \n" + ictLog: model.FamilyICT,
		fctLog:          model.FamilyFCT,
		aoiXML:          model.FamilyAOI,
		smtXML:          model.FamilySMT,
	} {
		got, err := r.Detect([]byte(data))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, []model.Family{model.FamilyICT, model.FamilyFCT, model.FamilyAOI, model.FamilySMT}, r.Formats())
}

type stubDecoder struct{}

func (stubDecoder) Format() model.Family   { return "xray" }
func (stubDecoder) Sniff(head []byte) bool { return strings.HasPrefix(string(head), "XRAY") }
func (stubDecoder) Decode(data []byte) ([]*model.TestRecord, error) {
	if len(data) < 8 {
		return nil, errors.New("short body")
	}
	return []*model.TestRecord{{Serial: string(data[4:8]), Outcome: model.OutcomePass}}, nil
}

func TestRegistry_RegisterCustomDecoder(t *testing.T) {
	r := Default()
	r.Register(stubDecoder{})

	recs, err := r.Parse([]byte("XRAYU001"), "")
	require.NoError(t, err)
	assert.Equal(t, "U001", recs[0].Serial)
	assert.Equal(t, model.Family("xray"), recs[0].Family)

	// Plain errors from a decoder are reported as truncation.
	_, err = r.Parse([]byte("XRAY"), "xray")
	assert.ErrorIs(t, err, ErrTruncated)
}
