package logparse

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// SMTDecoder decodes solder paste inspection exports rooted at
// VvExtDataExportXml. One record per Board object.
type SMTDecoder struct{}

func (SMTDecoder) Format() model.Family { return model.FamilySMT }

func (SMTDecoder) Sniff(head []byte) bool {
	return bytes.Contains(head, []byte("<VvExtDataExportXml"))
}

type smtDocument struct {
	XMLName   xml.Name `xml:"VvExtDataExportXml"`
	DataModel *struct {
		Name       string `xml:"Name,attr"`
		Variant    string `xml:"Variant,attr"`
		Barcode    string `xml:"Barcode,attr"`
		BoardCount string `xml:"BoardCount,attr"`
		Inspection *struct {
			Start   string `xml:"InspectionStart,attr"`
			End     string `xml:"InspectionEnd,attr"`
			Aborted string `xml:"InspectionAborted,attr"`
		} `xml:"Inspection"`
		Panel *smtObject `xml:"Object"`
	} `xml:"DataModel"`
}

type smtObject struct {
	Class   string      `xml:"Class,attr"`
	Name    string      `xml:"Name,attr"`
	Barcode string      `xml:"Barcode,attr"`
	Status  *smtStatus  `xml:"Status"`
	Objects []smtObject `xml:"Object"`
}

type smtStatus struct {
	Overall *struct {
		IsFailed string `xml:"IsFailed,attr"`
	} `xml:"Overall"`
}

func (o *smtObject) failed() (bool, bool) {
	if o.Status == nil || o.Status.Overall == nil || o.Status.Overall.IsFailed == "" {
		return false, false
	}
	return o.Status.Overall.IsFailed == "true", true
}

const smtTimeLayout = "2006-01-02T15:04:05"

func (d SMTDecoder) Decode(data []byte) ([]*model.TestRecord, error) {
	var doc smtDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, truncated(model.FamilySMT, "xml: %v", err)
	}
	dm := doc.DataModel
	if dm == nil {
		return nil, truncated(model.FamilySMT, "no DataModel")
	}
	if dm.Inspection == nil {
		return nil, truncated(model.FamilySMT, "no Inspection in DataModel")
	}
	end, err := time.Parse(smtTimeLayout, dm.Inspection.End)
	if err != nil {
		return nil, truncated(model.FamilySMT, "bad InspectionEnd %q", dm.Inspection.End)
	}
	if _, err := time.Parse(smtTimeLayout, dm.Inspection.Start); err != nil {
		return nil, truncated(model.FamilySMT, "bad InspectionStart %q", dm.Inspection.Start)
	}
	if dm.Panel == nil || dm.Panel.Class != "Panel" {
		return nil, truncated(model.FamilySMT, "no Panel object")
	}
	aborted := dm.Inspection.Aborted == "true"

	swVersion := strings.TrimSpace(dm.Name + " " + dm.Variant)
	var records []*model.TestRecord
	for i := range dm.Panel.Objects {
		board := &dm.Panel.Objects[i]
		if board.Class != "Board" {
			continue
		}
		if board.Barcode == "" {
			return nil, truncated(model.FamilySMT, "board %q without Barcode", board.Name)
		}
		isFailed, ok := board.failed()
		if !ok {
			return nil, truncated(model.FamilySMT, "board %s without Status/Overall IsFailed", board.Barcode)
		}
		rec := &model.TestRecord{
			Serial:    board.Barcode,
			Outcome:   model.OutcomePass,
			Timestamp: end,
			SWVersion: swVersion,
			Panel:     dm.Barcode,
			Board:     len(records) + 1,
		}
		if isFailed || aborted {
			rec.Outcome = model.OutcomeFail
		}
		for j := range board.Objects {
			comp := &board.Objects[j]
			if comp.Class != "Comp" {
				continue
			}
			compFailed, _ := comp.failed()
			rec.Measurements = append(rec.Measurements, model.Measurement{Name: comp.Name, Passed: !compFailed})
		}
		if aborted && len(rec.Measurements) == 0 {
			rec.Notes = "Failed: inspection aborted"
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, truncated(model.FamilySMT, "panel has no Board objects")
	}

	declared := -1
	if dm.BoardCount != "" {
		n, err := strconv.Atoi(dm.BoardCount)
		if err != nil {
			return nil, truncated(model.FamilySMT, "bad BoardCount %q", dm.BoardCount)
		}
		declared = n
	}
	for _, rec := range records {
		checkStepCount(rec, declared, len(records))
	}
	return records, nil
}
