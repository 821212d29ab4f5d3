package extract

import "fmt"

// Prompt templates for the vision collaborator. Responses use rigid
// line formats or strict JSON so the parsers in payload.go stay
// deterministic even when the model adds prose around the payload.

func promptScanRecords(count int) string {
	return fmt.Sprintf(`Look at this screenshot of an application showing a table of records.

List the FIRST %d record names you can see in the table, in order from top to bottom.

Return ONLY a JSON array of record names, nothing else:
["Record 1", "Record 2", "Record 3"]

If you see fewer than %d records, return all that you can see.`, count, count)
}

func promptLocateRecord(name string) string {
	return fmt.Sprintf(`Find the record named %q in this screenshot of a table.

Return the CENTER coordinates of the record name text and the bounding box of its row:
COORDINATES: (x, y)
BOUNDS: (x, y, width, height)

If the record is not visible, return: NOT_FOUND`, name)
}

func promptOpenControl(name string) string {
	return fmt.Sprintf(`Look at this screenshot. The pointer is hovering over the row for %q.

Find the small open/expand control that appears on a hovered row. It is on the same horizontal line as the record name.

Return the CENTER coordinates of the control:
COORDINATES: (x, y)

If you cannot find the control, return: NOT_FOUND`, name)
}

func promptNavigationCheck(name string) string {
	return fmt.Sprintf(`Look at this screenshot.

Did clicking on %q open a FULL PAGE view instead of an inline detail panel?

Signs of a full-page view:
- The record fills the main content area
- The table of records is no longer visible
- No side panel is present

Answer with ONLY "YES" or "NO" on the first line, then explain briefly.`, name)
}

func promptVerifyRecord(name string) string {
	return fmt.Sprintf(`Look at this screenshot. A detail view for %q should be open.

Is a record detail view visible? It could be an inline side panel or the main content area.

Answer in exactly this format:
RECORD_VISIBLE: YES or NO
RECORD_TITLE: <the displayed title, or UNKNOWN>
VIEW_TYPE: PANEL or MAIN or UNKNOWN`, name)
}

func promptExtractItems(name string) string {
	return fmt.Sprintf(`Look at this screenshot showing the detail view for %q.

Extract ALL list items from the record's item list (a bulleted or numbered list of entries).

Return as JSON and nothing else:
{"items": ["item 1", "item 2"]}

If no items are visible, return:
{"items": []}`, name)
}
