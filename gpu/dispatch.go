package gpu

import "github.com/openfluke/tensorvk/tensor"

// Op names the operation compute_forward dispatches to, standing in
// for the ggml op-code enum this backend was distilled from.
type Op int

const (
	OpMulMat Op = iota
	OpMul
)

// Phase names where in a multi-threaded CPU op's lifecycle this call
// falls: only PhaseCompute ever reaches the GPU; Init/Finalize calls
// are recognized and turned into no-ops without touching a Buffer.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseCompute
	PhaseFinalize
)

// Params is the minimal per-call context compute_forward needs: which
// worker thread and task phase this GPU offload is standing in for.
// Ith gates orchestration on ith==0 — only the first of the graph
// driver's cooperating CPU threads triggers the (synchronous,
// blocking) GPU dispatch, the rest fall through as handled-without-work
// so the op executes exactly once.
type Params struct {
	Ith   int
	Phase Phase
}

// ComputeForward is the compute-dispatch contract: it returns
// handled=true when this backend is responsible for the op (whether or
// not it actually did work this call) and handled=false to tell the
// caller to fall back to its CPU path. A call is handled-without-work
// (true, nil) when the call isn't the root worker or isn't in the
// compute phase.
func (c *Context) ComputeForward(op Op, params Params, srcs []*tensor.Tensor, dst *tensor.Tensor) (bool, error) {
	if !anyGPUResident(op, srcs, dst) {
		return false, nil
	}

	if params.Ith != 0 || params.Phase != PhaseCompute {
		return true, nil
	}

	switch op {
	case OpMulMat:
		if len(srcs) != 2 {
			return true, newErr(KindCapability, "ComputeForward", dst.Name, errWrongOperandCount)
		}
		return true, c.Matmul(srcs[0], srcs[1], dst)
	case OpMul:
		if len(srcs) != 2 {
			return true, newErr(KindCapability, "ComputeForward", dst.Name, errWrongOperandCount)
		}
		return true, c.Mul(srcs[0], srcs[1], dst)
	default:
		return true, newErr(KindCapability, "ComputeForward", dst.Name, errUnknownOp)
	}
}

// anyGPUResident reports whether any operand or the destination is
// GPU-resident (or GPU_SPLIT for operand 0). MUL_MAT singles out
// operand 0 for the GPU_SPLIT case per ggml's multi-device
// weight-splitting convention; every other operand and the destination
// only ever carry the plain GPU tag.
func anyGPUResident(op Op, srcs []*tensor.Tensor, dst *tensor.Tensor) bool {
	if dst != nil && dst.Backend == tensor.GPU {
		return true
	}
	for i, s := range srcs {
		if s == nil {
			continue
		}
		if s.Backend == tensor.GPU {
			return true
		}
		if i == 0 && op == OpMulMat && s.Backend == tensor.GPUSplit {
			return true
		}
	}
	return false
}
