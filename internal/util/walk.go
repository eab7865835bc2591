package util

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".vscode": true, ".idea": true, "vendor": true,
	"target": true, "build": true, "dist": true, "__pycache__": true, ".pytest_cache": true,
	"coverage": true, "site-packages": true, ".next": true, ".nuxt": true, "venv": true,
	".venv": true, "env": true,
}

// ShouldSkipDirectory reports whether a directory with this base name holds
// generated or third-party code.
func ShouldSkipDirectory(dirName string) bool {
	return skipDirs[dirName]
}

// CollectSourceFiles expands paths into the sorted list of files whose
// extension satisfies keep. Files are taken as given; directories are listed
// with git when they are a work tree and walked otherwise.
func CollectSourceFiles(paths []string, keep func(ext string) bool) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if seen[path] {
			return
		}
		if keep(strings.ToLower(filepath.Ext(path))) {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !seen[root] {
				seen[root] = true
				files = append(files, root)
			}
			continue
		}

		if IsGitWorkTree(root) {
			if listed, err := ListGitFiles(root); err == nil {
				for _, path := range listed {
					add(path)
				}
				continue
			}
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && ShouldSkipDirectory(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}
