// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

// Id identifies a catalog entry.
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	InvalidConfigId
	NoSourcesConfiguredId
	RepositoryFolderUnusableId
	GitNotFoundId
	AllSourcesFailedId
	SourceFetchFailedId
	NameCollisionId
	PublishFailedId
	PushRejectedId
	SyncCanceledId
	InvalidSourcesId
	CacheLocationUnusableId
)

type MarkdownMsg string

type HttpLink string

// Issue is a Markdown help entry shown to the user when a sync fails for a
// known reason.
type Issue struct {
	id       Id
	mdMsg    MarkdownMsg
	docLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the entry with glamour using the given style ("dark",
// "light", "notty", or a path to a JSON style).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		md += "\n\n## See also:\n"
		for _, link := range i.docLinks {
			md += "- <" + string(link) + ">\n"
		}
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Could not load the configuration!

idlsync reads a CUE or JSON document describing the upstream, the local
repository folder, the cache location and the list of remotes.

## Things you can try:
- Point at the file explicitly:
~~~
$ idlsync sync --config ./idlsync.cue
~~~
- Generate a starter file and edit it:
~~~
$ idlsync config init > idlsync.cue
~~~`,
	}

	invalidConfigIssue = &Issue{
		id: InvalidConfigId,
		mdMsg: `
# The configuration is invalid!

The file parsed, but some values are missing or out of range.

## Common issues:
- Two remotes resolve to the same name (set an explicit ` + "`name`" + ` on one of them)
- Unknown ` + "`fileNameStrategy`" + ` (valid: lastSegment, sourceName, fileName, namespaced)
- ` + "`maxConcurrency`" + ` lower than 1

~~~
$ idlsync config validate
~~~`,
	}

	noSourcesConfiguredIssue = &Issue{
		id: NoSourcesConfiguredId,
		mdMsg: `
# No remotes configured!

There is nothing to aggregate. Add at least one entry to ` + "`remotes`" + `:

~~~cue
remotes: [
	{repository: "git@git.example.com:org/billing.git", branch: "master"},
]
~~~`,
	}

	repositoryFolderUnusableIssue = &Issue{
		id: RepositoryFolderUnusableId,
		mdMsg: `
# The repository folder cannot be used!

idlsync needs to create and write the local working repository before any
remote is contacted. Nothing was fetched or published.

## Things you can try:
- Check permissions of the parent directory of ` + "`repositoryFolder`" + `
- Make sure the path is not an existing regular file`,
	}

	gitNotFoundIssue = &Issue{
		id: GitNotFoundId,
		mdMsg: `
# git was not found!

idlsync drives the git command line client. Install git and make sure it is
on your PATH.`,
	}

	allSourcesFailedIssue = &Issue{
		id: AllSourcesFailedId,
		mdMsg: `
# No remote could be updated!

Every configured remote failed to clone or fetch, so there is nothing to
publish. The previously published snapshot is untouched.

## Things you can try:
- Check network access and credentials for the remotes
- Re-run with ` + "`--verbose`" + ` to see git's output for each remote
- Clear a suspicious cached copy:
~~~
$ idlsync cache clean <name>
~~~`,
	}

	sourceFetchFailedIssue = &Issue{
		id: SourceFetchFailedId,
		mdMsg: `
# Some remotes could not be updated

The run continued without them. Their previously published files were kept
and are listed under ` + "`stale`" + ` in meta.json.`,
	}

	nameCollisionIssue = &Issue{
		id: NameCollisionId,
		mdMsg: `
# Name collisions detected

Two or more remotes produced the same published filename. The winner was
picked deterministically (lowest remote name), the others were dropped.

## Things you can try:
- Switch ` + "`fileNameStrategy`" + ` to ` + "`namespaced`" + `
- Give the colliding remotes distinct ` + "`name`" + ` values`,
	}

	publishFailedIssue = &Issue{
		id: PublishFailedId,
		mdMsg: `
# Publishing failed!

The snapshot could not be committed to the local repository. Upstream was
not modified; the next run starts from the upstream state again.`,
	}

	pushRejectedIssue = &Issue{
		id: PushRejectedId,
		mdMsg: `
# Push to upstream failed!

The snapshot was committed locally but upstream rejected it or was
unreachable. The next run resets to upstream and retries from scratch.

## Things you can try:
- Verify the ` + "`upstream`" + ` URL and write access
- Check whether someone else pushes to ` + "`upstreamBranch`",
	}

	syncCanceledIssue = &Issue{
		id: SyncCanceledId,
		mdMsg: `
# Sync canceled

The run was interrupted between stages. Nothing was published.`,
	}

	invalidSourcesIssue = &Issue{
		id: InvalidSourcesId,
		mdMsg: `
# Some remotes are misconfigured!

Every remote needs a repository, a branch and a name that no other remote
uses. The name defaults to the last path segment of the repository.

## Things you can try:
- Give one of two same-named remotes an explicit ` + "`name`" + `
- Check the list with:
~~~
$ idlsync config validate
~~~`,
	}

	cacheLocationUnusableIssue = &Issue{
		id: CacheLocationUnusableId,
		mdMsg: `
# The cache location cannot be used!

idlsync keeps one working copy per remote under ` + "`cacheLocation`" + `.
The directory could not be created or read. Nothing was fetched or published.

## Things you can try:
- Check permissions of ` + "`cacheLocation`" + ` and its parent
- Point ` + "`cacheLocation`" + ` at a writable directory`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		invalidConfigIssue.Id():            invalidConfigIssue,
		noSourcesConfiguredIssue.Id():      noSourcesConfiguredIssue,
		repositoryFolderUnusableIssue.Id(): repositoryFolderUnusableIssue,
		gitNotFoundIssue.Id():              gitNotFoundIssue,
		allSourcesFailedIssue.Id():         allSourcesFailedIssue,
		sourceFetchFailedIssue.Id():        sourceFetchFailedIssue,
		nameCollisionIssue.Id():            nameCollisionIssue,
		publishFailedIssue.Id():            publishFailedIssue,
		pushRejectedIssue.Id():             pushRejectedIssue,
		syncCanceledIssue.Id():             syncCanceledIssue,
		invalidSourcesIssue.Id():           invalidSourcesIssue,
		cacheLocationUnusableIssue.Id():    cacheLocationUnusableIssue,
	}
)

// Values returns all catalog entries ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
