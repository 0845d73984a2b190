package mcpserver

// TagFormatContract describes how tags are recognised in indexed files, so
// LLM consumers can write files the index will pick up.
const TagFormatContract = `# Librarian Tag Format

Librarian indexes hashtags found in Markdown (` + "`.md`" + `) and TaskPaper
(` + "`.taskpaper`" + `) files under the scan root.

## Inline hashtags

- A tag is ` + "`#`" + ` followed by a letter, then letters, digits, ` + "`_`" + ` or ` + "`-`" + `.
- The ` + "`#`" + ` must start the line or follow a character that is not a letter,
  digit, ` + "`_`" + `, ` + "`&`" + `, ` + "`/`" + ` or ` + "`#`" + `. So ` + "`a#b`" + `, ` + "`&#39;`" + ` and URL
  fragments are not tags, and ` + "`##heading`" + ` yields nothing.
- Within one file, tags differing only in case count once and the first
  spelling wins. Lookups by tag are exact: ` + "`#Project`" + ` and ` + "`#project`" + `
  from different files are different tags.

## Frontmatter

A leading YAML block may list tags as well:

` + "```" + `markdown
---
tags:
  - project-x
  - meeting-notes
---
` + "```" + `

A comma or space separated string (` + "`tags: a, b`" + `) also works. Frontmatter
tags come before inline ones.

## Whitelist mode

When the server runs with ` + "`tags.mode: whitelist`" + `, only configured tags
are kept; everything else is ignored.

## Files without tags

A file with no tags is not part of the index. Adding a tag later makes it
appear after the next rescan or file-change notification.
`
