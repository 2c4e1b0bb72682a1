package gpu

import (
	"strings"
	"testing"
)

func TestGenerateMatmulShaderContainsWorkgroupSize(t *testing.T) {
	src := generateMatmulShader(MatmulVariant{Tile: 16, Aligned: true})
	if src == "" {
		t.Fatal("expected non-empty shader source")
	}
	if !strings.Contains(src, "@workgroup_size(16, 16, 1)") {
		t.Errorf("expected the tile size to appear in the workgroup_size attribute:\n%s", src)
	}
}

func TestGenerateDequantMulMatVecVariants(t *testing.T) {
	f16Src := generateDequantMulMatVecShader(false)
	q4Src := generateDequantMulMatVecShader(true)
	if f16Src == q4Src {
		t.Errorf("expected distinct shader source for f16 vs q4_0 variants")
	}
}

func TestGenerateMulF32ShaderHasBroadcastLogic(t *testing.T) {
	src := generateMulF32Shader()
	if !strings.Contains(src, "i0 % params.ne10") {
		t.Errorf("expected column broadcast logic (i0 %% ne10) in mul_f32 shader")
	}
}
