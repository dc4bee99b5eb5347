package main

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

func checkOutputFormat(format string, allowTable bool) error {
	switch format {
	case "yaml", "json":
		return nil
	case "table":
		if allowTable {
			return nil
		}
	}
	return fmt.Errorf("unsupported output format %q", format)
}

func writeStructured(w io.Writer, format string, v any) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
