package logparse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/alfredjeanlab/tracegate/internal/model"
)

// ICTDecoder decodes Keysight in-circuit test logs: a brace-delimited tree of
// {@PREFIX|field|field...{child}} records rooted at a BATCH.
type ICTDecoder struct{}

func (ICTDecoder) Format() model.Family { return model.FamilyICT }

func (ICTDecoder) Sniff(head []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeftFunc(head, unicode.IsSpace), []byte("{@BATCH|"))
}

// ictNode is one {@PREFIX|...} record.
type ictNode struct {
	prefix   string
	fields   []string
	children []*ictNode
}

func (n *ictNode) field(i int) string {
	if i < len(n.fields) {
		return n.fields[i]
	}
	return ""
}

// BATCH|UUT type|rev|fixture id|testhead number|testhead type|process step|
// batch id|operator id|controller|testplan id|testplan rev|parent panel type|
// parent panel rev(|version label)
const (
	batchTestheadNumber = 3
	batchTestplanID     = 9
	batchTestplanRev    = 10
	batchMinFields      = 13
)

// BTEST|board id|test status|start datetime|duration|multiple test|log level|
// log set|learning|known good|end datetime|status qualifier|board number|
// parent panel id
const (
	btestBoardID     = 0
	btestStatus      = 1
	btestStart       = 2
	btestEnd         = 9
	btestBoardNumber = 11
	btestParentPanel = 12
	btestMinFields   = 10
)

func (d ICTDecoder) Decode(data []byte) ([]*model.TestRecord, error) {
	roots, err := parseICTTree(string(data))
	if err != nil {
		return nil, err
	}

	var batch *ictNode
	for _, n := range roots {
		if n.prefix == "BATCH" {
			batch = n
			break
		}
	}
	if batch == nil {
		return nil, truncated(model.FamilyICT, "no BATCH record")
	}
	if len(batch.fields) < batchMinFields {
		return nil, truncated(model.FamilyICT, "BATCH has %d fields, want at least %d", len(batch.fields), batchMinFields)
	}

	swVersion := strings.TrimSpace(batch.field(batchTestplanID) + " " + batch.field(batchTestplanRev))
	equipment := batch.field(batchTestheadNumber)

	var records []*model.TestRecord
	for _, bt := range batch.children {
		if bt.prefix != "BTEST" {
			continue
		}
		rec, err := decodeBTEST(bt)
		if err != nil {
			return nil, err
		}
		rec.SWVersion = swVersion
		rec.Equipment = equipment
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, truncated(model.FamilyICT, "BATCH has no BTEST records")
	}
	return records, nil
}

func decodeBTEST(bt *ictNode) (*model.TestRecord, error) {
	if len(bt.fields) < btestMinFields {
		return nil, truncated(model.FamilyICT, "BTEST has %d fields, want at least %d", len(bt.fields), btestMinFields)
	}
	serial := bt.field(btestBoardID)
	if serial == "" {
		return nil, truncated(model.FamilyICT, "BTEST without board id")
	}
	status, err := strconv.Atoi(bt.field(btestStatus))
	if err != nil {
		return nil, truncated(model.FamilyICT, "BTEST %s: bad status %q", serial, bt.field(btestStatus))
	}
	start, err := parseICTTime(bt.field(btestStart))
	if err != nil {
		return nil, truncated(model.FamilyICT, "BTEST %s: %v", serial, err)
	}
	if _, err := parseICTTime(bt.field(btestEnd)); err != nil {
		return nil, truncated(model.FamilyICT, "BTEST %s: %v", serial, err)
	}

	rec := &model.TestRecord{
		Serial:    serial,
		Outcome:   model.OutcomePass,
		Timestamp: start,
		Panel:     bt.field(btestParentPanel),
	}
	if n, err := strconv.Atoi(bt.field(btestBoardNumber)); err == nil {
		rec.Board = n
	}

	for _, child := range bt.children {
		steps, err := ictSteps(child, "")
		if err != nil {
			return nil, err
		}
		rec.Measurements = append(rec.Measurements, steps...)
	}

	if status != 0 {
		rec.Outcome = model.OutcomeFail
		rec.Notes = model.FailureNotes(rec.FailedSteps())
		if rec.Notes == "" {
			rec.Notes = "Failed: " + ictStatusName(status)
		}
	}
	return rec, nil
}

// ictUnits maps analog test prefixes to the unit of their measured value.
var ictUnits = map[string]string{
	"A-CAP": "F",
	"A-DIO": "V",
	"A-FUS": "Ohm",
	"A-IND": "H",
	"A-JUM": "Ohm",
	"A-MEA": "V",
	"A-NFE": "V",
	"A-PFE": "V",
	"A-NPN": "V",
	"A-PNP": "V",
	"A-POT": "Ohm",
	"A-RES": "Ohm",
	"A-SWI": "Ohm",
	"A-ZEN": "V",
}

func ictSteps(n *ictNode, block string) ([]model.Measurement, error) {
	switch {
	case n.prefix == "BLOCK":
		name := stripTestIndex(n.field(0))
		var steps []model.Measurement
		for _, c := range n.children {
			s, err := ictSteps(c, name)
			if err != nil {
				return nil, err
			}
			steps = append(steps, s...)
		}
		if len(steps) == 0 {
			steps = append(steps, model.Measurement{Name: name, Passed: n.field(1) == "0" || n.field(1) == "00"})
		}
		return steps, nil

	case strings.HasPrefix(n.prefix, "A-"):
		// {@A-???|test status|measured value (|subtest designator)}
		value, err := strconv.ParseFloat(n.field(1), 64)
		if err != nil {
			return nil, truncated(model.FamilyICT, "%s %s: bad value %q", n.prefix, block, n.field(1))
		}
		name := block
		if sub := n.field(2); sub != "" {
			if name == "" {
				name = sub
			} else {
				name += "%" + sub
			}
		}
		m := model.Measurement{
			Name:   name,
			Value:  value,
			Unit:   ictUnits[n.prefix],
			Passed: ictPassed(n.field(0)),
		}
		for _, c := range n.children {
			switch c.prefix {
			case "LIM2":
				// {@LIM2|high limit|low limit}
				m.High = parseLimit(c.field(0))
				m.Low = parseLimit(c.field(1))
			case "LIM3":
				// {@LIM3|nominal value|high limit|low limit}
				m.High = parseLimit(c.field(1))
				m.Low = parseLimit(c.field(2))
			}
		}
		return []model.Measurement{m}, nil

	case n.prefix == "PF":
		// {@PF|designator|test status|total pins}
		return []model.Measurement{{Name: nonEmpty(stripTestIndex(n.field(0)), "pins"), Passed: ictPassed(n.field(1))}}, nil

	case n.prefix == "TS":
		// {@TS|test status|shorts count|opens count|phantoms count (|designator)}
		return []model.Measurement{{Name: nonEmpty(n.field(4), "shorts"), Passed: ictPassed(n.field(0))}}, nil

	case n.prefix == "D-T":
		// {@D-T|test status|test substatus|failing vector number|pin count|test designator}
		return []model.Measurement{{Name: nonEmpty(block, stripTestIndex(n.field(4))), Passed: ictPassed(n.field(0))}}, nil
	}

	var steps []model.Measurement
	for _, c := range n.children {
		s, err := ictSteps(c, block)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s...)
	}
	return steps, nil
}

func ictPassed(status string) bool {
	n, err := strconv.Atoi(status)
	return err == nil && n == 0
}

func parseLimit(s string) *float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return floatPtr(v)
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// stripTestIndex turns "17%c617" into "c617".
func stripTestIndex(name string) string {
	if i := strings.IndexByte(name, '%'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// parseICTTime parses YYMMDDhhmmss with the year offset from 2000.
func parseICTTime(s string) (time.Time, error) {
	if len(s) != 12 {
		return time.Time{}, fmt.Errorf("bad datetime %q", s)
	}
	var parts [6]int
	for i := range parts {
		n, err := strconv.Atoi(s[i*2 : i*2+2])
		if err != nil {
			return time.Time{}, fmt.Errorf("bad datetime %q", s)
		}
		parts[i] = n
	}
	t := time.Date(2000+parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], 0, time.UTC)
	if t.Month() != time.Month(parts[1]) || t.Day() != parts[2] {
		return time.Time{}, fmt.Errorf("bad datetime %q", s)
	}
	return t, nil
}

func ictStatusName(status int) string {
	switch status {
	case 0:
		return "passed"
	case 1:
		return "uncategorized_failure"
	case 2:
		return "failed_pin_test"
	case 3:
		return "failed_in_learn_mode"
	case 4:
		return "failed_shorts_test"
	case 6:
		return "failed_analog_test"
	case 7:
		return "failed_power_supply_test"
	case 8:
		return "failed_digital_or_boundary_scan_test"
	case 9:
		return "failed_functional_test"
	case 10:
		return "failed_pre-shorts_test"
	case 11:
		return "failed_in_board_handler"
	case 12:
		return "failed_barcode"
	case 13:
		return "xd_out"
	case 14:
		return "failed_in_VTEP_or_TestJet"
	case 15:
		return "failed_in_polarity_check"
	case 16:
		return "failed_in_ConnectCheck"
	case 17:
		return "failed_in_analog_cluster_test"
	case 80:
		return "runtime_error"
	case 81:
		return "aborted_(STOP)"
	case 82:
		return "aborted_(BREAK)"
	case 90:
		return "programming_error"
	}
	if status >= 91 && status <= 99 {
		return "user-definable"
	}
	return "reserved"
}

// parseICTTree builds the record tree. Fields are the text between the
// prefix and the first child or closing brace, split on '|' and trimmed.
func parseICTTree(s string) ([]*ictNode, error) {
	type frame struct {
		node *ictNode
		text strings.Builder
		// closed once the first child starts; text after that is ignored.
		closed bool
	}
	var (
		roots []*ictNode
		stack []*frame
	)

	finishFields := func(f *frame) {
		if f.closed {
			return
		}
		f.closed = true
		raw := strings.TrimLeft(f.text.String(), " \t\r\n")
		raw = strings.TrimPrefix(raw, "|")
		if strings.TrimSpace(raw) == "" {
			return
		}
		parts := strings.Split(raw, "|")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		f.node.fields = parts
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{':
			if i+1 >= len(s) || s[i+1] != '@' {
				return nil, truncated(model.FamilyICT, "record without @ prefix at offset %d", i)
			}
			j := i + 2
			for j < len(s) && !strings.ContainsRune("|{} \t\r\n", rune(s[j])) {
				j++
			}
			if len(stack) > 0 {
				finishFields(stack[len(stack)-1])
			}
			stack = append(stack, &frame{node: &ictNode{prefix: s[i+2 : j]}})
			i = j - 1
		case '}':
			if len(stack) == 0 {
				return nil, truncated(model.FamilyICT, "unbalanced '}' at offset %d", i)
			}
			top := stack[len(stack)-1]
			finishFields(top)
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				roots = append(roots, top.node)
			} else {
				parent := stack[len(stack)-1].node
				parent.children = append(parent.children, top.node)
			}
		default:
			if len(stack) == 0 {
				if !unicode.IsSpace(rune(c)) {
					return nil, truncated(model.FamilyICT, "text outside a record at offset %d", i)
				}
				continue
			}
			top := stack[len(stack)-1]
			if !top.closed {
				top.text.WriteByte(c)
			}
		}
	}
	if len(stack) > 0 {
		return nil, truncated(model.FamilyICT, "%d unclosed records at end of file", len(stack))
	}
	return roots, nil
}
