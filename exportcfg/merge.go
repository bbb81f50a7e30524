package exportcfg

import "github.com/hazyhaar/docexport/schema"

// Overlay is a partial configuration layered over a base. Nil fields keep
// the base value; the merge only knows about declared fields, there is no
// implicit pass-through.
//
// Format blocks and Selection replace as whole blocks: a preset that sets
// chunking options sets all of them. Output fields override individually,
// which is what per-call overrides actually need (usually just Directory).
type Overlay struct {
	Formats    schema.FormatOptions      `json:"formats,omitempty"`
	Validation *schema.ValidationOptions `json:"validation,omitempty"`
	Output     *OutputOverlay            `json:"output,omitempty"`
	Selection  *schema.Selection         `json:"selection,omitempty"`
}

// OutputOverlay overrides individual output fields.
type OutputOverlay struct {
	Directory       *string `json:"directory,omitempty"`
	FileNamePattern *string `json:"file_name_pattern,omitempty"`
	Compression     *bool   `json:"compression,omitempty"`
	SplitLargeFiles *bool   `json:"split_large_files,omitempty"`
	MaxFileSize     *int64  `json:"max_file_size,omitempty"`
}

// applyOverlay returns base with the overlay's set fields applied.
func applyOverlay(base schema.ExportOptions, o *Overlay) schema.ExportOptions {
	if o == nil {
		return base
	}
	if o.Formats.RAG != nil {
		cp := *o.Formats.RAG
		base.Formats.RAG = &cp
	}
	if o.Formats.JSONL != nil {
		cp := *o.Formats.JSONL
		base.Formats.JSONL = &cp
	}
	if o.Formats.Corrections != nil {
		cp := *o.Formats.Corrections
		base.Formats.Corrections = &cp
	}
	if o.Formats.Manifest != nil {
		cp := *o.Formats.Manifest
		base.Formats.Manifest = &cp
	}
	if o.Formats.Log != nil {
		cp := *o.Formats.Log
		base.Formats.Log = &cp
	}
	if o.Validation != nil {
		base.Validation = *o.Validation
	}
	if o.Output != nil {
		if o.Output.Directory != nil {
			base.Output.Directory = *o.Output.Directory
		}
		if o.Output.FileNamePattern != nil {
			base.Output.FileNamePattern = *o.Output.FileNamePattern
		}
		if o.Output.Compression != nil {
			base.Output.Compression = *o.Output.Compression
		}
		if o.Output.SplitLargeFiles != nil {
			base.Output.SplitLargeFiles = *o.Output.SplitLargeFiles
		}
		if o.Output.MaxFileSize != nil {
			base.Output.MaxFileSize = *o.Output.MaxFileSize
		}
	}
	if o.Selection != nil {
		cp := *o.Selection
		base.Selection = &cp
	}
	return base
}

// mergeOverlays layers b over a into a new overlay. Either may be nil.
func mergeOverlays(a, b *Overlay) *Overlay {
	if a == nil && b == nil {
		return nil
	}
	out := &Overlay{}
	for _, o := range []*Overlay{a, b} {
		if o == nil {
			continue
		}
		if o.Formats.RAG != nil {
			out.Formats.RAG = o.Formats.RAG
		}
		if o.Formats.JSONL != nil {
			out.Formats.JSONL = o.Formats.JSONL
		}
		if o.Formats.Corrections != nil {
			out.Formats.Corrections = o.Formats.Corrections
		}
		if o.Formats.Manifest != nil {
			out.Formats.Manifest = o.Formats.Manifest
		}
		if o.Formats.Log != nil {
			out.Formats.Log = o.Formats.Log
		}
		if o.Validation != nil {
			out.Validation = o.Validation
		}
		if o.Selection != nil {
			out.Selection = o.Selection
		}
		if o.Output != nil {
			if out.Output == nil {
				out.Output = &OutputOverlay{}
			}
			if o.Output.Directory != nil {
				out.Output.Directory = o.Output.Directory
			}
			if o.Output.FileNamePattern != nil {
				out.Output.FileNamePattern = o.Output.FileNamePattern
			}
			if o.Output.Compression != nil {
				out.Output.Compression = o.Output.Compression
			}
			if o.Output.SplitLargeFiles != nil {
				out.Output.SplitLargeFiles = o.Output.SplitLargeFiles
			}
			if o.Output.MaxFileSize != nil {
				out.Output.MaxFileSize = o.Output.MaxFileSize
			}
		}
	}
	return out
}

// overlayFromOptions converts a preset's full options into an overlay so it
// can be layered with the same merge rules.
func overlayFromOptions(opts schema.ExportOptions) *Overlay {
	o := &Overlay{
		Formats:   opts.Formats,
		Selection: opts.Selection,
	}
	v := opts.Validation
	o.Validation = &v
	out := opts.Output
	o.Output = &OutputOverlay{}
	if out.Directory != "" {
		o.Output.Directory = &out.Directory
	}
	if out.FileNamePattern != "" {
		o.Output.FileNamePattern = &out.FileNamePattern
	}
	if out.Compression {
		o.Output.Compression = &out.Compression
	}
	if out.SplitLargeFiles {
		o.Output.SplitLargeFiles = &out.SplitLargeFiles
	}
	if out.MaxFileSize > 0 {
		o.Output.MaxFileSize = &out.MaxFileSize
	}
	return o
}
