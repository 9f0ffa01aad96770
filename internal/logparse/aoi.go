package logparse

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// AOIDecoder decodes optical inspection XML exports (GlobalInformation,
// PCBInformation and ComponentInformation blocks). One record per board.
type AOIDecoder struct{}

func (AOIDecoder) Format() model.Family { return model.FamilyAOI }

func (AOIDecoder) Sniff(head []byte) bool {
	return bytes.Contains(head, []byte("<GlobalInformation"))
}

type aoiDocument struct {
	Global *struct {
		Station struct {
			Name string `xml:"Name"`
		} `xml:"Station"`
		Program struct {
			InspectionPlanName string `xml:"InspectionPlanName"`
			VariantName        string `xml:"VariantName"`
		} `xml:"Program"`
		Inspection *aoiStamp `xml:"Inspection"`
		Repair     *struct {
			OperatorName string `xml:"OperatorName"`
			aoiStamp
		} `xml:"Repair"`
	} `xml:"GlobalInformation"`
	PCBs *struct {
		Count  string `xml:"Count,attr"`
		Boards []struct {
			PCBNumber string `xml:"PCBNumber"`
			Barcode   string `xml:"Barcode"`
			Result    string `xml:"Result"`
		} `xml:"SinglePCB"`
	} `xml:"PCBInformation"`
	Components struct {
		Windows []aoiWindow `xml:",any"`
	} `xml:"ComponentInformation"`
}

type aoiStamp struct {
	Date struct {
		End string `xml:"End"`
	} `xml:"Date"`
	Time struct {
		End string `xml:"End"`
	} `xml:"Time"`
}

func (s *aoiStamp) end() (time.Time, bool) {
	if s == nil || s.Date.End == "" || s.Time.End == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102 150405", strings.TrimSpace(s.Date.End)+" "+strings.TrimSpace(s.Time.End))
	return t, err == nil
}

type aoiWindow struct {
	WinID     string `xml:"WinID"`
	WinType   string `xml:"WinType"`
	PCBNumber string `xml:"PCBNumber"`
	MacroName string `xml:"MacroName"`
	// Result is only written by the repair station; Type 2 is a pseudo error.
	Result *struct {
		Type string `xml:"Type"`
	} `xml:"Result"`
	// Analysis/Result is written by the inspection station; 0 is pass.
	Analysis struct {
		Result string `xml:"Result"`
	} `xml:"Analysis"`
}

func (w aoiWindow) failed() bool {
	if w.Result != nil {
		return strings.TrimSpace(w.Result.Type) != "2"
	}
	r := strings.TrimSpace(w.Analysis.Result)
	return r != "" && r != "0"
}

func (d AOIDecoder) Decode(data []byte) ([]*model.TestRecord, error) {
	var doc aoiDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, truncated(model.FamilyAOI, "xml: %v", err)
	}
	g := doc.Global
	if g == nil {
		return nil, truncated(model.FamilyAOI, "no GlobalInformation")
	}
	when, ok := g.Inspection.end()
	if g.Station.Name == "" || g.Program.InspectionPlanName == "" || !ok {
		return nil, truncated(model.FamilyAOI, "missing mandatory GlobalInformation fields")
	}
	if g.Repair != nil {
		if t, ok := g.Repair.end(); ok {
			when = t
		}
	}
	if doc.PCBs == nil || len(doc.PCBs.Boards) == 0 {
		return nil, truncated(model.FamilyAOI, "no SinglePCB records")
	}

	swVersion := g.Program.InspectionPlanName
	if g.Program.VariantName != "" {
		swVersion += " " + g.Program.VariantName
	}

	records := make([]*model.TestRecord, 0, len(doc.PCBs.Boards))
	byNumber := make(map[string]*model.TestRecord)
	for i, b := range doc.PCBs.Boards {
		serial := strings.TrimSpace(b.Barcode)
		result := strings.TrimSpace(b.Result)
		if serial == "" || result == "" {
			return nil, truncated(model.FamilyAOI, "SinglePCB %d is missing Barcode or Result", i+1)
		}
		rec := &model.TestRecord{
			Serial:    serial,
			Outcome:   model.OutcomeFail,
			Timestamp: when,
			Equipment: g.Station.Name,
			SWVersion: swVersion,
			Board:     i + 1,
		}
		if n, err := strconv.Atoi(strings.TrimSpace(b.PCBNumber)); err == nil {
			rec.Board = n
		}
		if result == "PASS" {
			rec.Outcome = model.OutcomePass
		}
		if len(doc.PCBs.Boards) > 1 {
			rec.Panel = strings.TrimSpace(doc.PCBs.Boards[0].Barcode)
		}
		records = append(records, rec)
		byNumber[strconv.Itoa(rec.Board)] = rec
	}

	for _, w := range doc.Components.Windows {
		if w.WinID == "" || !w.failed() {
			continue
		}
		rec := byNumber[strings.TrimSpace(w.PCBNumber)]
		if rec == nil {
			continue
		}
		rec.Measurements = append(rec.Measurements, model.Measurement{
			Name: nonEmpty(macroMode(w.MacroName), w.WinType) + ":" + w.WinID,
		})
	}

	declared := -1
	if doc.PCBs.Count != "" {
		n, err := strconv.Atoi(strings.TrimSpace(doc.PCBs.Count))
		if err != nil {
			return nil, truncated(model.FamilyAOI, "bad PCBInformation Count %q", doc.PCBs.Count)
		}
		declared = n
	}
	for _, rec := range records {
		checkStepCount(rec, declared, len(records))
	}
	return records, nil
}

// macroMode extracts the analysis mode from a macro name:
// "R0402_3D_GENR_30_15" yields "GENR".
func macroMode(macro string) string {
	parts := strings.Split(macro, "_")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-3]
}
