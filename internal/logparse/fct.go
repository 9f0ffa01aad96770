package logparse

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// FCTDecoder decodes Kaizen functional test logs: Windows-1252 text with
// ';'-separated header keys followed by six-column step rows.
type FCTDecoder struct{}

func (FCTDecoder) Format() model.Family { return model.FamilyFCT }

func (FCTDecoder) Sniff(head []byte) bool {
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))
	return bytes.HasPrefix(bytes.TrimLeft(head, " \t\r\n"), []byte("SerialNumber;"))
}

const fctTimeLayout = "2006.01.02. 15:04"

func (d FCTDecoder) Decode(data []byte) ([]*model.TestRecord, error) {
	text, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return nil, truncated(model.FamilyFCT, "decode windows-1252: %v", err)
	}

	rec := &model.TestRecord{}
	var (
		start       time.Time
		haveStart   bool
		testingTime int
		result      string
		errorCode   = -1
		declared    = -1
	)

	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		tokens := strings.Split(line, ";")
		if len(tokens) < 2 {
			continue
		}
		key, val := strings.TrimSpace(tokens[0]), strings.TrimSpace(tokens[1])

		switch key {
		case "SerialNumber":
			rec.Serial = val
		case "Part Type":
			rec.SWVersion = val
		case "MES":
			// MES;1 marks a log the tester expects to be uploaded.
		case "Start Time":
			t, err := time.Parse(fctTimeLayout, val)
			if err != nil {
				return nil, truncated(model.FamilyFCT, "bad start time %q", val)
			}
			start, haveStart = t, true
		case "Testing time(sec)":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, truncated(model.FamilyFCT, "bad testing time %q", val)
			}
			testingTime = n
		case "Result":
			result = val
		case "Error Code":
			if n, err := strconv.Atoi(val); err == nil {
				errorCode = n
			}
		case "Steps":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, truncated(model.FamilyFCT, "bad step count %q", val)
			}
			declared = n
		case "StepName":
		default:
			if len(tokens) != 6 {
				continue
			}
			m, err := fctStep(tokens)
			if err != nil {
				return nil, err
			}
			rec.Measurements = append(rec.Measurements, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, truncated(model.FamilyFCT, "read: %v", err)
	}

	switch {
	case rec.Serial == "":
		return nil, truncated(model.FamilyFCT, "no serial number")
	case !haveStart:
		return nil, truncated(model.FamilyFCT, "no start time")
	case len(rec.Measurements) == 0:
		return nil, truncated(model.FamilyFCT, "no test steps")
	case result == "":
		return nil, truncated(model.FamilyFCT, "no result line")
	}

	rec.Timestamp = start.Add(time.Duration(testingTime) * time.Second)
	rec.Outcome = model.OutcomeFail
	if result == "Passed" {
		rec.Outcome = model.OutcomePass
	} else {
		rec.Notes = model.FailureNotes(rec.FailedSteps())
		if rec.Notes == "" && errorCode > 0 {
			rec.Notes = "Failed: error code " + strconv.Itoa(errorCode)
		}
	}
	checkStepCount(rec, declared, len(rec.Measurements))
	return []*model.TestRecord{rec}, nil
}

// fctStep decodes name;min;measured;max;unit;result. Limits are optional;
// mA and kHz values are scaled to A and Hz.
func fctStep(tokens []string) (model.Measurement, error) {
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	value, err := strconv.ParseFloat(tokens[2], 64)
	if err != nil {
		return model.Measurement{}, truncated(model.FamilyFCT, "step %q: bad measured value %q", tokens[0], tokens[2])
	}

	unit := tokens[4]
	scale := func(v float64) float64 { return v }
	switch unit {
	case "mA":
		unit = "A"
		scale = func(v float64) float64 { return v / 1000 }
	case "kHz", "kHZ":
		unit = "Hz"
		scale = func(v float64) float64 { return v * 1000 }
	}

	m := model.Measurement{
		Name:   tokens[0],
		Value:  scale(value),
		Unit:   unit,
		Passed: tokens[5] == "Passed" || tokens[5] == "Info",
	}
	low, lowErr := strconv.ParseFloat(tokens[1], 64)
	high, highErr := strconv.ParseFloat(tokens[3], 64)
	if lowErr == nil && highErr == nil {
		m.Low = floatPtr(scale(low))
		m.High = floatPtr(scale(high))
	}
	return m, nil
}
