// Package file implements the server side of filepeer: the server root
// every name is confined to, the recursive file index, and the executor
// that applies decoded commands to the filesystem.
//
// # Overview
//
// The file package provides three primary components:
//
//   - Root: the server directory, created on first use, with path
//     confinement for store names and move paths
//   - Find: a depth-first search for the first file with a given base name
//   - Executor: performs store, retrieve, move and delete against a Root
//     and writes the response status
//
// # Server Root
//
//	root, err := file.OpenRoot("server_directory")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store names may contain relative subdirectories
//	path, err := root.Resolve("reports/2024.csv")
//
//	// Names that escape the root are refused
//	_, err = root.Resolve("../etc/passwd") // errors.Is(err, transport.ErrForbidden)
//
// # Finding Files
//
// Retrieve and delete look a bare name up anywhere beneath the root.
// Directories with the same name never match. When several files share a
// name the one reached first in the depth-first walk wins. A name with a
// path separator is taken relative to the root, the way a store places it.
//
//	path, ok := file.Find(root.Path(), "notes.txt")
//	entry, target, err := root.Lookup("reports/2024.csv")
//
// A symlink is followed for retrieve only while its target stays inside the
// root. Delete and move act on the link itself.
//
// # Executing Commands
//
//	exec, err := file.NewExecutor(root, file.NotifierFunc(refresh), file.ExecutorOptions{
//	    MinFreeBytes: 1 << 20,
//	})
//	outcome := exec.Execute(cmd, conn, conn)
//	if !outcome.Success() {
//	    log.Printf("%s failed: %v", cmd, outcome.Err)
//	}
//
// Stores stream into a temporary file that replaces the target only after
// the payload ended cleanly, so a broken connection never leaves a partial
// file under the requested name. A store is refused with StatusNoSpace when
// the filesystem holding the root has less than MinFreeBytes available.
//
// After every successful store, move or delete the ChangeNotifier is called
// on its own goroutine. Notifications may be redundant and may overlap.
package file
