// Command caseimport runs case-management imports from CSV directories and
// workbooks without the HTTP server.
package main

func main() {
	Execute()
}
