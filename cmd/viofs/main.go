// Command viofs is a small command-line client for a single-file virtual
// file system image: mount one container file and run one operation
// against it per invocation.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/viofs/viofs"
)

var (
	flagImage    = flag.String("image", "", "path to the container image file")
	flagMirror   = flag.Bool("mirror", false, "maintain a byte-identical mirror at <image>.bak")
	flagPageSize = flag.Int("page-size", 0, "page size for a brand-new image (0 = default)")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if *flagImage == "" || len(args) < 1 {
		usage()
		os.Exit(2)
	}

	fs, err := viofs.MountFile(*flagImage, *flagMirror, viofs.Options{PageSize: *flagPageSize})
	if err != nil {
		fmt.Fprintln(os.Stderr, "mount:", err)
		os.Exit(1)
	}
	defer fs.Dispose()

	cmd, rest := args[0], args[1:]
	if err := dispatch(fs, cmd, rest); err != nil {
		fmt.Fprintln(os.Stderr, cmd+":", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: viofs -image <path> [-mirror] [-page-size N] <command> [args...]

commands:
  mkdir <path>              create a directory and its missing parents
  ls <path>                 list a directory's entries
  touch <path>              create an empty file
  cat <path>                print a file's contents to stdout
  write <path>              write stdin to a file, truncating it first
  append <path>             append stdin to a file
  rm <path>                 delete a file
  rmdir <path> [-r]         delete a directory, recursively with -r
  getattr <path> <name>     print an attribute's value as hex
  setattr <path> <name> <hex>  set an attribute from a hex string`)
}

func dispatch(fs *viofs.VFS, cmd string, args []string) error {
	switch cmd {
	case "mkdir":
		requireArgs(args, 1, cmd)
		return fs.CreateDirectory(args[0])
	case "ls":
		requireArgs(args, 1, cmd)
		entries, err := fs.EnumerateDirectory(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintln(w, e)
		}
		return w.Flush()
	case "touch":
		requireArgs(args, 1, cmd)
		return fs.CreateFile(args[0], 0)
	case "cat":
		requireArgs(args, 1, cmd)
		s, err := fs.OpenFile(args[0], viofs.ModeOpen, viofs.AccessRead)
		if err != nil {
			return err
		}
		defer s.Dispose()
		_, err = io.Copy(os.Stdout, streamReader{s})
		return err
	case "write":
		requireArgs(args, 1, cmd)
		s, err := fs.OpenFile(args[0], viofs.ModeTruncate, viofs.AccessWrite)
		if err != nil {
			s, err = fs.OpenFile(args[0], viofs.ModeOpenOrCreate, viofs.AccessWrite)
			if err != nil {
				return err
			}
			if err := s.SetLength(0); err != nil {
				s.Dispose()
				return err
			}
		}
		defer s.Dispose()
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		_, err = s.Write(data)
		return err
	case "append":
		requireArgs(args, 1, cmd)
		s, err := fs.OpenFile(args[0], viofs.ModeAppend, viofs.AccessWrite)
		if err != nil {
			return err
		}
		defer s.Dispose()
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		_, err = s.Write(data)
		return err
	case "rm":
		requireArgs(args, 1, cmd)
		return fs.DeleteFile(args[0])
	case "rmdir":
		requireArgs(args, 1, cmd)
		recursive := len(args) > 1 && args[1] == "-r"
		return fs.DeleteDirectory(args[0], recursive)
	case "getattr":
		requireArgs(args, 2, cmd)
		value, ok, err := fs.TryGetAttribute(args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no such attribute: %s", args[1])
		}
		fmt.Println(hex.EncodeToString(value))
		return nil
	case "setattr":
		requireArgs(args, 3, cmd)
		value, err := hex.DecodeString(args[2])
		if err != nil {
			return fmt.Errorf("decode hex value: %w", err)
		}
		return fs.SetAttribute(args[0], args[1], value)
	default:
		usage()
		os.Exit(2)
		return nil
	}
}

func requireArgs(args []string, n int, cmd string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "%s: expected at least %d argument(s)\n", cmd, n)
		os.Exit(2)
	}
}

// streamReader adapts *viofs.FileStream's (int, error) Read to io.Reader's
// zero-length-means-EOF convention.
type streamReader struct{ s *viofs.FileStream }

func (r streamReader) Read(p []byte) (int, error) {
	n, err := r.s.Read(p)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
