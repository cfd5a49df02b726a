package submission

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/validator"
)

// SheetHeader opens every answer sheet message.
const SheetHeader = "ANSWERS"

// NoPendingMarker tells the server there is nothing to resend.
const NoPendingMarker = "n"

// Encode renders a finalized sheet as the submission message:
// the header line, then one "question,option,seconds" row per presented
// question.
func Encode(rows []model.SheetRow) []byte {
	var b bytes.Buffer
	b.WriteString(SheetHeader)
	b.WriteByte('\n')
	writeRows(&b, rows)
	return b.Bytes()
}

func writeRows(b *bytes.Buffer, rows []model.SheetRow) {
	for _, r := range rows {
		fmt.Fprintf(b, "%d,%d,%d\n", r.QuestionIndex, r.OptionIndex, r.Seconds)
	}
}

// Decode parses a submission message. The header line is optional.
func Decode(body []byte) ([]model.SheetRow, error) {
	return decodeRows(bytes.NewReader(body))
}

func decodeRows(r io.Reader) ([]model.SheetRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var rows []model.SheetRow
	first := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sheet row: %w", err)
		}
		if first {
			first = false
			if len(rec) == 1 && strings.TrimSpace(rec[0]) == SheetHeader {
				continue
			}
		}
		row, err := parseRow(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("sheet line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string) (model.SheetRow, error) {
	if len(rec) != 3 {
		return model.SheetRow{}, fmt.Errorf("want 3 fields, got %d", len(rec))
	}
	var vals [3]int
	for i, f := range rec {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return model.SheetRow{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = n
	}
	row := model.SheetRow{QuestionIndex: vals[0], OptionIndex: vals[1], Seconds: vals[2]}
	if err := validator.Struct(row); err != nil {
		return model.SheetRow{}, fmt.Errorf("invalid row: %s", validator.Message(err))
	}
	return row, nil
}

// EncodeBackup renders the durable backup form: the exam identifier on the
// first line, then the sheet rows.
// checkExamID rejects identifiers a backup cannot hold: the exam id has the
// first line of the backup to itself.
func checkExamID(examID string) error {
	if err := validator.Var(examID, "required"); err != nil {
		return apperr.New(apperr.ErrValidation, "check exam id", errors.New("exam id is empty"))
	}
	if strings.ContainsAny(examID, "\r\n") {
		return apperr.New(apperr.ErrValidation, "check exam id", fmt.Errorf("exam id %q spans lines", examID))
	}
	return nil
}

func EncodeBackup(examID string, rows []model.SheetRow) []byte {
	var b bytes.Buffer
	b.WriteString(examID)
	b.WriteByte('\n')
	writeRows(&b, rows)
	return b.Bytes()
}

// DecodeBackup parses a backup file. A header line after the identifier, as
// older clients wrote, is accepted.
func DecodeBackup(data []byte) (string, []model.SheetRow, error) {
	br := bufio.NewReader(bytes.NewReader(data))
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", nil, fmt.Errorf("read backup: %w", err)
	}
	examID := strings.TrimRight(first, "\r\n")
	if examID == "" {
		return "", nil, errors.New("backup has no exam identifier")
	}
	rows, err := decodeRows(br)
	if err != nil {
		return "", nil, err
	}
	return examID, rows, nil
}
