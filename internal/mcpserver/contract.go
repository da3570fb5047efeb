package mcpserver

// PageFormatContract describes the canonical page format that LLM
// consumers should follow when creating or updating pages.
const PageFormatContract = `# Canopy Page Format Contract

Every page stored in Canopy MUST follow this structure.

## Page names

Pages form a tree. A page is addressed by its full colon-separated name:

    Projects:Canopy:Roadmap

- Segments are separated by ` + "`" + `:` + "`" + ` and are never empty.
- Segments must not contain ` + "`" + `/ \ ? # * " ' < > | %` + "`" + ` or control characters.
- A segment must not start with ` + "`" + `+` + "`" + ` (reserved for relative links) or ` + "`" + `.` + "`" + `.
- Parents do not have to exist first: saving ` + "`" + `A:B:C` + "`" + ` creates placeholder
  entries for ` + "`" + `A` + "`" + ` and ` + "`" + `A:B` + "`" + ` automatically.

## Structure

` + "```" + `markdown
---
title: Human-readable title         # OPTIONAL - overrides the first heading
tags:                               # OPTIONAL - YAML list
  - tag-one
  - tag-two
---

# Heading used as the title when the frontmatter has none

Body text in standard Markdown.

Use [[Full:Page:Name]] to link to another page.
Use [[+Child]] to link to a child of the current page.
Use [[Target|display text]] when the link text should differ.
Tag inline with @tag-name tokens.

- [ ] open task
- [x] completed task
` + "```" + `

## Rules

1. **Frontmatter is optional.** When present, the ` + "`" + `---` + "`" + ` fences must be the
   first thing in the file.
2. **The title** comes from the frontmatter ` + "`" + `title` + "`" + ` field, else the first
   ` + "`" + `#` + "`" + ` heading, else the last segment of the page name.
3. **Tags** are lowercase, kebab-case, and start with a letter
   (e.g. ` + "`" + `project-x` + "`" + `, ` + "`" + `meeting-notes` + "`" + `). Inline ` + "`" + `@tag` + "`" + ` tokens and the
   frontmatter list are merged.
4. **Links** use double brackets with the full page name, no file
   extension: ` + "`" + `[[Projects:Canopy]]` + "`" + `. A leading ` + "`" + `+` + "`" + ` makes the target
   relative to the current page.
5. **Tasks** are Markdown checkboxes at the start of a list item.
6. **Encoding** is UTF-8 with a trailing newline.
7. **No HTML** unless absolutely necessary; prefer Markdown equivalents.

## Attachments

- Upload files via the ` + "`" + `attach_file` + "`" + ` tool. It returns a ` + "`" + `markdownImage` + "`" + `
  field ready to paste into the page body.
- Attachments are stored in the page's own directory, next to the files
  of its child pages, and move together with the page.
- Reference them relative to the page: ` + "`" + `![description](./diagram.png)` + "`" + `.
- Supported formats: png, jpg, jpeg, gif, webp, svg, pdf.

## Example

` + "```" + `markdown
---
tags:
  - meeting-notes
---

# Weekly standup

Attendees: Alice, Bob. @project-x

![Whiteboard photo](./standup.jpg)

## Action items

- [ ] Alice reviews the [[Projects:Canopy:Design]]
- [x] Bob updated [[+Roadmap|the roadmap]]
` + "```" + `
`
