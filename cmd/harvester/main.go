// Package main provides the entry point for the harvester CLI.
//
// harvester crawls outward from a start URL, ranks pages by how likely they
// are to lead to data files, and downloads the CSV, JSON, spreadsheet and
// archive files it finds.
//
// Usage:
//
//	harvester crawl --url https://example.org/data
//	harvester records list --limit 20
//	harvester mcp-server --transport stdio
//
// See --help for all available options.
package main

func main() {
	Execute()
}
