package bamprovider_test

import (
	"fmt"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/pilescan/encoding/bampair"
	"github.com/grailbio/pilescan/encoding/bamprovider"
	"github.com/stretchr/testify/require"
)

func manyRecords(n int) []*sam.Record {
	recs := make([]*sam.Record, n)
	for i := range recs {
		recs[i] = newRecord(fmt.Sprintf("r%d", i), chr1, i, 5)
	}
	return recs
}

func TestLookaheadOrder(t *testing.T) {
	for _, tt := range []struct {
		nRec, capacity, wantCap int
	}{
		{0, 4, 4},
		{3, 4, 4},
		{4, 4, 4},
		{100, 5, 8},
		{100, 1, 1},
		{10, 0, bamprovider.DefaultReadAhead},
	} {
		p := bamprovider.NewFakeProvider(header, manyRecords(tt.nRec))
		b := bamprovider.NewLookaheadBuffer(p.NewIterator(nil), tt.capacity, nil)
		require.Equal(t, tt.wantCap, b.Cap())
		n := 0
		for b.HasNext() {
			require.True(t, b.Len() > 0 && b.Len() <= b.Cap())
			peeked := b.Peek()
			rec := b.Next()
			require.True(t, peeked == rec)
			require.Equal(t, fmt.Sprintf("r%d", n), rec.Name)
			n++
		}
		require.Equal(t, tt.nRec, n)
		require.Nil(t, b.Peek())
		require.Nil(t, b.Next())
		require.NoError(t, b.Err())
		require.NoError(t, b.Close())
	}
}

func TestLookaheadFillsMateCache(t *testing.T) {
	// r0 and its mate r0' are 6 records apart; with a read-ahead of 8 the mate
	// is cached before r0 is handed out.
	recs := manyRecords(10)
	recs[0].Flags = sam.Paired | sam.Read1
	recs[0].MateRef = chr1
	recs[0].MatePos = 6
	recs[6].Name = "r0"
	recs[6].Flags = sam.Paired | sam.Read2
	recs[6].MateRef = chr1
	recs[6].MatePos = 0

	cache := bampair.NewMateCache(16, 4)
	p := bamprovider.NewFakeProvider(header, recs)
	b := bamprovider.NewLookaheadBuffer(p.NewIterator(nil), 8, cache)
	require.Equal(t, 8, cache.Len())
	first := b.Next()
	mate := cache.FindMate(first)
	require.NotNil(t, mate)
	require.Equal(t, 6, mate.Pos)
	// The freed slot was refilled.
	require.Equal(t, 9, cache.Len())
	require.Equal(t, 8, b.Len())
	require.NoError(t, b.Close())
}

func TestLookaheadError(t *testing.T) {
	b := bamprovider.NewLookaheadBuffer(bamprovider.NewErrorIterator(fmt.Errorf("boom")), 4, nil)
	require.False(t, b.HasNext())
	require.Error(t, b.Err())
	require.Error(t, b.Close())
}
