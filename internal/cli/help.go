package cli

import "fmt"

func HelpText(program string) string {
	if program == "" {
		program = "mangaview"
	}
	return fmt.Sprintf(`%s - read images out of comic archives and folders

Usage:
  %s [flags] <command> <target>

Commands:
  list <archive|folder>       List images as index, size and name
  info <archive#entry|file>   Decode one image and print its size and format
                              (entry is an index or a name: vol.cbz#3, vol.cbz#ch1/p03.png)
  batch <archive|folder>      Decode every image in the background and summarise
  folders <root>              List folders and archives under root that hold images
  check <archive>             Run the path and structure checks and read every entry

Flags:
  -c, --config <file>         YAML configuration file (also MANGAVIEW_CONFIG)
  -l, --log-level <level>     debug, info, warn or error
  -w, --workers <n>           Batch decode workers (at most 4)
      --lookahead <n>         Entries to preload after the requested one
      --metrics               Print metrics after the command
      --enable-long-paths     With check: turn on extended path support (Windows, elevated)
  -v, --verbose               Verbose output
  -h, --help                  Show this help message

Supported containers: zip/cbz, rar/cbr, 7z/cb7, tar (plain, gz, bz2, xz, zst, lz4)
Supported images: jpg, jpeg, png, bmp, gif, tga, webp

Exit status: 0 success, 1 completed with warnings, 2 fatal error
`, program, program)
}
