package fat

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/kestrelfs/fat32/internal/gpt"
)

// offsetDevice shifts every block access by partStart blocks, so a Formatter
// (which always writes starting at block 0) can format a single partition
// living inside a larger disk image without touching the partition table.
type offsetDevice struct {
	*BytesBlocks
	partStart int64
}

func (o offsetDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	return o.BytesBlocks.ReadBlocks(dst, startBlock+o.partStart)
}
func (o offsetDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	return o.BytesBlocks.WriteBlocks(data, startBlock+o.partStart)
}
func (o offsetDevice) EraseBlocks(startBlock, numBlocks int64) error {
	return o.BytesBlocks.EraseBlocks(startBlock+o.partStart, numBlocks)
}

// TestFindGPTVolume writes a protective MBR, a GUID Partition Table with a
// single partition, and a freshly formatted FAT32 volume inside it, then
// confirms mounting discovers the partition and reports its GUID.
func TestFindGPTVolume(t *testing.T) {
	const blockSize = 512
	const numBlocks = 100000
	const partStartLBA = 2048
	const partEntryLBA = 2

	dev := NewBytesBlocks(numBlocks, blockSize)
	partGUID := uuid.New()

	// Protective MBR: marker byte 0xEE at the partition-type offset of the
	// first table entry tells find_volume to defer to the GPT.
	var mbr [512]byte
	mbr[offsetMBRTable+4] = 0xEE
	binary.LittleEndian.PutUint16(mbr[510:], 0xAA55)
	if _, err := dev.WriteBlocks(mbr[:], 0); err != nil {
		t.Fatal(err)
	}

	// GPT header at LBA 1.
	var hdrbuf [512]byte
	hdr, err := gpt.ToHeader(hdrbuf[:])
	if err != nil {
		t.Fatal(err)
	}
	hdr.SetPartitionEntryLBA(partEntryLBA)
	hdr.SetNumberOfPartitionEntries(1)
	hdr.SetSizeOfPartitionEntry(128)
	binary.LittleEndian.PutUint64(hdrbuf[0:], gptSignature)
	if _, err := dev.WriteBlocks(hdrbuf[:], 1); err != nil {
		t.Fatal(err)
	}

	// Single partition entry at LBA 2.
	var entrybuf [512]byte
	pe, err := gpt.ToPartitionEntry(entrybuf[:])
	if err != nil {
		t.Fatal(err)
	}
	pe.SetPartitionTypeGUID([16]byte{0xAA}) // Any non-zero type marks it "used".
	var guidArr [16]byte
	guidBytes, _ := partGUID.MarshalBinary()
	copy(guidArr[:], guidBytes)
	pe.SetUniquePartitionGUID(guidArr)
	pe.SetFirstLBA(partStartLBA)
	pe.SetLastLBA(partStartLBA + 69999)
	if _, err := dev.WriteBlocks(entrybuf[:], partEntryLBA); err != nil {
		t.Fatal(err)
	}

	// Format the FAT32 volume at its partition offset.
	part := offsetDevice{BytesBlocks: dev, partStart: partStartLBA}
	var formatter Formatter
	const partSizeBlocks = 70000
	if err := formatter.Format(part, blockSize, partSizeBlocks, FormatConfig{Label: "GPTVOL"}); err != nil {
		t.Fatal(err)
	}

	var fs FS
	attachLogger(&fs)
	fr := fs.mount_volume(dev, blockSize, faRead|faWrite)
	if fr != frOK {
		t.Fatal(fr.Error())
	}
	got := fs.PartitionGUID()
	if got != partGUID {
		t.Errorf("partition GUID mismatch: got %s, want %s", got, partGUID)
	}
}
