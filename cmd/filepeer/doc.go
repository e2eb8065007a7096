// Package main provides the filepeer command.
//
// # Overview
//
// filepeer runs either side of a file exchange. The serve command opens the
// server directory and listens on the first free port of the shared range;
// the other commands find that listener by scanning the same range and
// perform one request each.
//
// # Usage
//
// Serve the default directory (server_directory) on the first free port
// from 5000:
//
//	filepeer serve
//
// Upload, download, move and delete:
//
//	filepeer store report.pdf
//	filepeer store report.pdf archive/2024/report.pdf
//	filepeer retrieve report.pdf ./downloads
//	filepeer move archive/2024/report.pdf old
//	filepeer delete report.pdf
//
// Talk to a peer on another host, through a SOCKS5 proxy:
//
//	filepeer -host files.example.net -proxy socks5://127.0.0.1:1080 retrieve notes.txt
//
// # Configuration Options
//
// Network configuration:
//   - -host: interface to bind (serve) or host to reach (default: all interfaces / localhost)
//   - -port: first port of the range (default: 5000)
//   - -attempts: number of ports in the range (default: 100)
//   - -proxy: socks5:// or http:// proxy for requests
//
// Server configuration:
//   - -root: server directory (default: server_directory)
//   - -max-conns: bound on concurrent connections (default: unbounded)
//   - -min-free: free bytes required before accepting a store (default: 1 MiB)
//
// Timeouts and output:
//   - -idle-timeout, -attempt-timeout, -buffer
//   - -log-level, -log-json, -progress
//
// # Exit Codes
//
//   - 0: the request succeeded, or the server shut down cleanly
//   - 1: the request failed or the configuration is invalid
//   - 2: the command line could not be parsed
package main
