package graph

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medimagetools/internal/models"
)

func rec(uid string, m models.Modality, ref string) models.SeriesRecord {
	return models.SeriesRecord{
		SeriesInstanceUID:   uid,
		Modality:            m,
		PatientID:           "P1",
		StudyInstanceUID:    "S1",
		ReferencedSeriesUID: ref,
	}
}

// crawlTable is two patients: a CT with two structure sets and a dose grid,
// and a PET/CT pair with a SEG.
func crawlTable() []models.SeriesRecord {
	return []models.SeriesRecord{
		rec("ct1", models.CT, ""),
		rec("rs1", models.RTSTRUCT, "ct1"),
		rec("rs2", models.RTSTRUCT, "ct1"),
		rec("plan1", models.RTPLAN, "rs1"),
		rec("dose1", models.RTDOSE, "plan1"),
		rec("ct2", models.CT, ""),
		rec("pt2", models.PT, "ct2"),
		rec("seg2", models.SEG, "ct2"),
		rec("pt3", models.PT, ""),
	}
}

func rootUIDs(g *Graph) []string {
	var out []string
	for _, r := range g.Roots() {
		out = append(out, r.UID())
	}
	sort.Strings(out)
	return out
}

func sortedEdges(g *Graph) []Edge {
	edges := g.Edges()
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Parent != edges[j].Parent {
			return edges[i].Parent < edges[j].Parent
		}
		return edges[i].Child < edges[j].Child
	})
	return edges
}

func TestBuildRootsAndEdges(t *testing.T) {
	g := Build(crawlTable())

	assert.Equal(t, 9, g.Len())
	assert.Equal(t, []string{"ct1", "ct2", "pt3"}, rootUIDs(g))
	assert.Equal(t, []Edge{
		{"ct1", "rs1"}, {"ct1", "rs2"},
		{"ct2", "pt2"}, {"ct2", "seg2"},
		{"plan1", "dose1"},
		{"rs1", "plan1"},
	}, sortedEdges(g))
	assert.Zero(t, g.DanglingEdges)
}

func TestBuildIsPermutationInvariant(t *testing.T) {
	base := Build(crawlTable())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		rows := crawlTable()
		rng.Shuffle(len(rows), func(a, b int) { rows[a], rows[b] = rows[b], rows[a] })
		g := Build(rows)
		assert.Equal(t, rootUIDs(base), rootUIDs(g))
		assert.Equal(t, sortedEdges(base), sortedEdges(g))
	}
}

func TestBuildCollapsesDuplicates(t *testing.T) {
	rows := crawlTable()
	dup := rec("rs1", models.RTSTRUCT, "ct2")
	rows = append(rows, dup, rec("ct1", models.CT, ""))
	g := Build(rows)

	assert.Equal(t, 9, g.Len())
	n, ok := g.Node("rs1")
	require.True(t, ok)
	assert.Equal(t, "ct1", n.Record.ReferencedSeriesUID, "first occurrence wins")
	assert.Len(t, g.Edges(), 6)
}

func TestBuildDropsDanglingReference(t *testing.T) {
	rows := append(crawlTable(), rec("orphan", models.RTSTRUCT, "missing-ct"))

	var g *Graph
	require.NotPanics(t, func() { g = Build(rows) })
	assert.Equal(t, 1, g.DanglingEdges)

	orphan, ok := g.Node("orphan")
	require.True(t, ok)
	assert.False(t, orphan.IsRoot())

	for _, r := range g.Roots() {
		for _, n := range g.Tree(r) {
			assert.NotEqual(t, "orphan", n.UID())
		}
	}

	e := &Enumerator{Graph: g}
	samples, err := e.Query("RTSTRUCT")
	require.NoError(t, err)
	for _, s := range samples {
		for _, it := range s {
			assert.NotEqual(t, "orphan", it.Series)
		}
	}
}

func TestFindBranches(t *testing.T) {
	g := Build(crawlTable())
	branches := g.FindBranches(g.Roots())

	var got [][]string
	for _, b := range branches {
		got = append(got, b.UIDs())
	}
	assert.ElementsMatch(t, [][]string{
		{"ct1", "rs1", "plan1", "dose1"},
		{"ct1", "rs2"},
		{"ct2", "pt2"},
		{"ct2", "seg2"},
		{"pt3"},
	}, got)
}

func TestFindBranchesCountsLeaves(t *testing.T) {
	g := Build(crawlTable())
	leaves := 0
	for _, r := range g.Roots() {
		for _, n := range g.Tree(r) {
			if len(g.Children(n)) == 0 {
				leaves++
			}
		}
	}
	assert.Equal(t, leaves, len(g.FindBranches(g.Roots())))
}

func TestFindBranchesDoNotShareTails(t *testing.T) {
	g := Build(crawlTable())
	branches := g.FindBranches(g.Roots())
	require.NotEmpty(t, branches)

	branches[0][0] = nil
	for _, b := range branches[1:] {
		assert.NotNil(t, b[0])
	}
}

func TestFindBranchesStopsOnCycle(t *testing.T) {
	rows := []models.SeriesRecord{
		rec("ct", models.CT, ""),
		rec("a", models.RTSTRUCT, "ct"),
		rec("b", models.RTPLAN, "a"),
	}
	g := Build(rows)
	// Close a cycle a -> b -> a by hand.
	b, _ := g.Node("b")
	a, _ := g.Node("a")
	b.children = append(b.children, a.handle)

	branches := g.FindBranches(g.Roots())
	require.Len(t, branches, 1)
	assert.Equal(t, []string{"ct", "a", "b"}, branches[0].UIDs())
	assert.Len(t, g.Tree(g.Roots()[0]), 3)
}

func TestSelfReferenceIgnored(t *testing.T) {
	g := Build([]models.SeriesRecord{rec("ct", models.CT, "ct")})
	assert.Empty(t, g.Edges())
	assert.Len(t, g.FindBranches(g.Roots()), 1)
}
