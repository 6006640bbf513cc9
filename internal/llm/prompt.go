package llm

import (
	"strings"
)

// TableMarker precedes every table in OCR transcriptions.
const TableMarker = "=== TABLEAU ==="

// OCRInstructions is the fixed transcription prompt sent with every page image.
func OCRInstructions() string {
	return strings.Join([]string{
		"You transcribe scanned administrative and accounting documents with complete fidelity.",
		"Reproduce ALL visible text: headers, titles, labels, values, totals, notes, legal mentions, small print. Never omit a word, digit or symbol and never interpret or infer.",
		"Tables: write exactly `" + TableMarker + "` on its own line before each table. Give one single header line per table, merging headers that span several visual lines (join segments with a space or `/`, e.g. `Nom sociétaire / N° sociétaire / N° contrat`).",
		"Separate columns with ` | `, left to right. Every data line has the same number of columns as the header. An empty cell is `| |`. Keep the exact number of table lines.",
		"A cell spanning several rows is written on its first row only; following rows leave that cell empty. Never copy values between rows.",
		"Contract numbers are transcribed whole, with letters, prefixes and separators exactly as printed (e.g. `ERP/3495U539`, `HA CPX 00123`).",
		"Pages holding only totals or summaries get no table block, but their text is still transcribed.",
		"Only fix obvious OCR confusions in numeric context (`I`→`1`, `O`→`0`). Keep numbers, dates and amounts in their visible format.",
		"Never redact, anonymize or replace values with placeholders such as N/A, -, ?, [illisible]. Leave unreadable cells empty.",
		"Return plain text only: no markdown, no commentary, no questions.",
	}, "\n")
}

// NameColumnsInstructions asks for the main table's header names only.
func NameColumnsInstructions() string {
	return "Return ONLY a JSON list of the column names of the main table if there is one, otherwise []."
}

// StructuringInstructions is the fixed prompt turning one page of OCR text
// into JSON rows.
func StructuringInstructions() string {
	return strings.Join([]string{
		"You convert the OCR transcription of one scanned page into JSON records.",
		"Return ONLY a JSON array. Each element is a flat object for one data row of the page's tables (lines after `" + TableMarker + "`).",
		"Use the table header labels exactly as written as object keys. Values are strings copied verbatim from the cell; use null for empty cells.",
		"Do not invent rows, do not compute totals, skip total/subtotal lines and pages without data tables (return []).",
		"When a header combines several labels with `/` and the cell clearly holds several values, split them into one key per label.",
		"Never repeat an identical row. No prose before or after the JSON.",
	}, "\n")
}

// MappingInstructions asks the model to project rows onto target columns.
func MappingInstructions(target []string) string {
	return strings.Join([]string{
		"You map tabular records onto a fixed target schema.",
		"Target columns (exact names, exact set): [" + strings.Join(target, ", ") + "].",
		"Input is a JSON array of objects. Return ONLY a JSON array with exactly one object per input object, in the same order.",
		"Each output object has exactly the target columns as keys and string values; use \"\" when no input field maps to a column.",
		"Copy values, do not reformat dates or amounts and do not invent data.",
	}, "\n")
}
