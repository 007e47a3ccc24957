package vm

import "testing"

func TestChunkWriteGrowsByDoubling(t *testing.T) {
	var c Chunk
	c.Init()

	var caps []int
	for i := 0; i < 40; i++ {
		c.Write(byte(OpNil), i/10+1)
		if len(caps) == 0 || caps[len(caps)-1] != cap(c.Code) {
			caps = append(caps, cap(c.Code))
		}
	}

	want := []int{8, 16, 32, 64}
	if len(caps) != len(want) {
		t.Fatalf("capacities = %v, want %v", caps, want)
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Errorf("capacity step %d = %d, want %d", i, caps[i], want[i])
		}
	}
	if len(c.Lines) != len(c.Code) {
		t.Errorf("len(Lines) = %d, len(Code) = %d", len(c.Lines), len(c.Code))
	}
	if c.Line(0) != 1 || c.Line(39) != 4 {
		t.Errorf("Line(0)=%d Line(39)=%d, want 1 and 4", c.Line(0), c.Line(39))
	}
	if c.Line(40) != 0 || c.Line(-1) != 0 {
		t.Error("out of range Line should be 0")
	}
}

func TestChunkAddConstant(t *testing.T) {
	var c Chunk
	for i := 0; i < 300; i++ {
		if idx := c.AddConstant(Number(i)); idx != i {
			t.Fatalf("AddConstant #%d returned %d", i, idx)
		}
	}
	if len(c.Constants) != 300 {
		t.Errorf("len(Constants) = %d, want 300", len(c.Constants))
	}
}

func TestChunkReadUint16(t *testing.T) {
	var c Chunk
	c.WriteOp(OpJump, 1)
	c.Write(0x12, 1)
	c.Write(0x34, 1)
	if got := c.ReadUint16(1); got != 0x1234 {
		t.Errorf("ReadUint16 = %#x, want 0x1234 (big-endian)", got)
	}
}

func TestChunkFree(t *testing.T) {
	var c Chunk
	c.WriteOp(OpReturn, 1)
	c.AddConstant(Number(1))
	c.Free()
	if c.Len() != 0 || len(c.Lines) != 0 || len(c.Constants) != 0 {
		t.Error("Free left data behind")
	}
}
