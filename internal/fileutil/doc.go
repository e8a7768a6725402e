// Package fileutil discovers plan files on disk.
//
// Commands accept a mix of plan files and directories. ExpandPlanPaths keeps
// file arguments as given and replaces each directory with the plan files
// found inside it, filtered by extension and an optional name pattern.
// Hidden directories and common dependency directories (vendor,
// node_modules) are never entered.
//
// Scanning is error tolerant: an unreadable subdirectory is reported in
// ScanResult.Errors and the walk continues. Only a missing root or an
// invalid pattern fails the scan. Results are sorted so repeated runs score
// plans in the same order.
package fileutil
