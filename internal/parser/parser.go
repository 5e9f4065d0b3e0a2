// Package parser turns user input and deck files into prompt/answer pairs.
package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// PairSeparator splits a text item into prompt and answer, e.g. "Hello - Hola".
const PairSeparator = " - "

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
)

// ErrMalformedPair is returned when text cannot be split into a prompt and an answer.
var ErrMalformedPair = errors.New("expected \"prompt - answer\"")

// Pair is a single prompt and its expected answer.
type Pair struct {
	Prompt string
	Answer string
}

// ParsePair splits "prompt - answer" on the first separator. Both sides are
// trimmed and must be non-empty.
func ParsePair(text string) (Pair, error) {
	prompt, answer, ok := strings.Cut(text, PairSeparator)
	if !ok {
		return Pair{}, ErrMalformedPair
	}
	p := Pair{Prompt: strings.TrimSpace(prompt), Answer: strings.TrimSpace(answer)}
	if p.Prompt == "" || p.Answer == "" {
		return Pair{}, ErrMalformedPair
	}
	return p, nil
}

// ParseCSV reads "prompt,answer" rows. Blank rows are skipped. A row without
// both fields, or one the CSV reader rejects, is reported in rowErrs with its
// line and the remaining rows are still parsed. err is set only when the input
// cannot be read at all.
func ParseCSV(r io.Reader) (pairs []Pair, rowErrs []error, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rowErrs = append(rowErrs, err)
				continue
			}
			return pairs, rowErrs, err
		}
		line, _ := reader.FieldPos(0)

		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < 2 {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, ErrMalformedPair))
			continue
		}
		p := Pair{Prompt: strings.TrimSpace(record[0]), Answer: strings.TrimSpace(record[1])}
		if p.Prompt == "" || p.Answer == "" {
			rowErrs = append(rowErrs, fmt.Errorf("line %d: %w", line, ErrMalformedPair))
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, rowErrs, nil
}

// IsDeckFile reports whether a file name has an extension ParseFile understands.
func IsDeckFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".csv":
		return true
	}
	return false
}

// ParseFile reads a deck file from the given path. CSV files are parsed with
// ParseCSV; anything else is treated as a markdown deck, which has no row errors.
func ParseFile(path string) ([]Pair, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ParseCSV(file)
	}
	pairs, err := Parse(file)
	return pairs, nil, err
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
)

// Parse reads a markdown deck of "Q:" / "A:" blocks separated by blank lines or "---".
// Cards without both a question and an answer are dropped.
func Parse(r io.Reader) ([]Pair, error) {
	scanner := bufio.NewScanner(r)
	var pairs []Pair
	var current Pair
	var block []string
	currentState := seeking

	flush := func() {
		if len(block) == 0 {
			return
		}
		content := strings.TrimSpace(strings.Join(block, "\n"))
		switch currentState {
		case readingQuestion:
			current.Prompt = content
		case readingAnswer:
			current.Answer = content
		}
		block = nil
	}

	finish := func() {
		flush()
		if current.Prompt != "" && current.Answer != "" {
			pairs = append(pairs, current)
		}
		current = Pair{}
		currentState = seeking
	}

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "---":
			finish()
		case strings.HasPrefix(line, questionPrefix):
			if currentState != seeking { // A new question always starts a new card
				finish()
			}
			currentState = readingQuestion
			block = append(block, trimPrefix(line, questionPrefix))
		case strings.HasPrefix(line, answerPrefix):
			flush()
			currentState = readingAnswer
			block = append(block, trimPrefix(line, answerPrefix))
		case currentState != seeking:
			block = append(block, line)
		}
	}

	finish() // Finish the very last card in the file

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func trimPrefix(line, prefix string) string {
	return strings.TrimPrefix(line[len(prefix):], " ")
}
