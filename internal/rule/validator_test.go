package rule

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webRule() Rule {
	return Rule{
		name:            "web",
		tcp:             true,
		sourceInterface: "wlan0",
		sourcePortMin:   8080,
		targetIP:        "192.168.1.10",
		targetPortMin:   80,
		enabled:         true,
	}
}

/* invariantsHold 独立实现的七条不变量，用作属性测试的对照 */
func invariantsHold(r Rule, l Limits) bool {
	return r.name != "" && utf8.RuneCountInString(r.name) <= MaxNameLength &&
		(r.tcp || r.udp) &&
		r.sourceInterface != "" && utf8.RuneCountInString(r.sourceInterface) <= MaxInterfaceLength &&
		l.MinPort <= r.sourcePortMin && r.sourcePortMin <= l.MaxPort &&
		(r.sourcePortMax == 0 || (r.sourcePortMin <= r.sourcePortMax && r.sourcePortMax <= l.MaxPort)) &&
		l.TargetMinPort <= r.targetPortMin && r.targetPortMin <= l.MaxPort &&
		r.targetIP != "" && utf8.RuneCountInString(r.targetIP) <= MaxTargetIPLength
}

func TestValidator_IsValidMatchesInvariants(t *testing.T) {
	v := Default()
	l := v.Limits()

	ports := []int{-1, 0, 1, l.TargetMinPort, l.MinPort - 1, l.MinPort, 8080, l.MaxPort - 1, l.MaxPort, l.MaxPort + 1}
	names := []string{"", "web", strings.Repeat("规", MaxNameLength), strings.Repeat("n", MaxNameLength+1)}
	ifaces := []string{"", "wlan0", strings.Repeat("i", MaxInterfaceLength+1)}
	ips := []string{"", "10.0.0.1", "fe80::1", strings.Repeat("1", MaxTargetIPLength+1)}
	bools := []bool{false, true}

	rnd := rand.New(rand.NewSource(42))
	pick := func(n int) int { return rnd.Intn(n) }

	for i := 0; i < 20000; i++ {
		r := Rule{
			name:            names[pick(len(names))],
			tcp:             bools[pick(2)],
			udp:             bools[pick(2)],
			sourceInterface: ifaces[pick(len(ifaces))],
			sourcePortMin:   ports[pick(len(ports))],
			sourcePortMax:   ports[pick(len(ports))],
			targetIP:        ips[pick(len(ips))],
			targetPortMin:   ports[pick(len(ports))],
			enabled:         bools[pick(2)],
		}
		if pick(4) == 0 {
			r.sourcePortMax = 0
		}
		if pick(8) == 0 {
			r.sourcePortMin = rnd.Intn(70000) - 1000
		}
		require.Equal(t, invariantsHold(r, l), v.IsValid(r), "rule: %+v", r)
	}
}

func TestValidator_ValidateReportsEveryField(t *testing.T) {
	err := Default().Validate(Rule{sourcePortMax: 70000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	codes := map[string]FieldCode{}
	for _, fe := range verr.Fields() {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]FieldCode{
		FieldName:            CodeEmpty,
		FieldProtocol:        CodeEmpty,
		FieldSourceInterface: CodeEmpty,
		FieldSourcePortMin:   CodeOutOfRange,
		FieldSourcePortMax:   CodeOutOfRange,
		FieldTargetPortMin:   CodeOutOfRange,
		FieldTargetIP:        CodeEmpty,
	}, codes)
}

func TestValidator_SourcePortMaxBoundaries(t *testing.T) {
	v := Default()
	r := webRule()

	r.sourcePortMax = 0
	assert.True(t, v.IsValid(r), "0 表示单端口")

	r.sourcePortMax = r.sourcePortMin
	assert.True(t, v.IsValid(r), "max == min 合法")

	r.sourcePortMax = r.sourcePortMin - 1
	assert.False(t, v.IsValid(r))

	r.sourcePortMax = MaxPortNumber
	assert.True(t, v.IsValid(r))

	r.sourcePortMax = MaxPortNumber + 1
	assert.False(t, v.IsValid(r))
}

func TestValidator_FieldValidators(t *testing.T) {
	v := Default()

	tests := []struct {
		name  string
		fn    func() error
		field string
		code  FieldCode
	}{
		{"空名称", func() error { return v.ValidateName("") }, FieldName, CodeEmpty},
		{"名称过长", func() error { return v.ValidateName(strings.Repeat("n", MaxNameLength+1)) }, FieldName, CodeOutOfRange},
		{"接口名过长", func() error { return v.ValidateSourceInterface(strings.Repeat("i", MaxInterfaceLength+1)) }, FieldSourceInterface, CodeOutOfRange},
		{"目标 IP 过长", func() error { return v.ValidateTargetIP(strings.Repeat("1", MaxTargetIPLength+1)) }, FieldTargetIP, CodeOutOfRange},
		{"非数字源端口", func() error { _, err := v.ValidateSourcePort("80a"); return err }, FieldSourcePortMin, CodeNotNumeric},
		{"空源端口", func() error { _, err := v.ValidateSourcePort(""); return err }, FieldSourcePortMin, CodeNotNumeric},
		{"源端口低于下限", func() error { _, err := v.ValidateSourcePort("80"); return err }, FieldSourcePortMin, CodeOutOfRange},
		{"源端口超上限", func() error { _, err := v.ValidateSourcePort("65536"); return err }, FieldSourcePortMin, CodeOutOfRange},
		{"源端口整数溢出", func() error { _, err := v.ValidateSourcePort("99999999999999999999"); return err }, FieldSourcePortMin, CodeOutOfRange},
		{"空目标 IP", func() error { return v.ValidateTargetIP("") }, FieldTargetIP, CodeEmpty},
		{"非法目标 IP", func() error { return v.ValidateTargetIP("300.1.1.1") }, FieldTargetIP, CodeMalformed},
		{"主机名不是 IP", func() error { return v.ValidateTargetIP("example.com") }, FieldTargetIP, CodeMalformed},
		{"目标端口为 0", func() error { _, err := v.ValidateTargetPort("0"); return err }, FieldTargetPortMin, CodeOutOfRange},
		{"目标端口非数字", func() error { _, err := v.ValidateTargetPort("http"); return err }, FieldTargetPortMin, CodeNotNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestValidator_FieldValidatorsAccept(t *testing.T) {
	v := Default()

	assert.NoError(t, v.ValidateName("web"))
	assert.NoError(t, v.ValidateName(strings.Repeat("规", MaxNameLength)), "长度按字符计")
	assert.NoError(t, v.ValidateTargetIP("192.168.1.10"))
	assert.NoError(t, v.ValidateTargetIP("2001:db8::1"))

	port, err := v.ValidateSourcePort(strconv.Itoa(v.Limits().MinPort))
	require.NoError(t, err)
	assert.Equal(t, 1024, port)

	port, err = v.ValidateTargetPort("1")
	require.NoError(t, err)
	assert.Equal(t, 1, port)

	port, err = v.ValidateTargetPort("65535")
	require.NoError(t, err)
	assert.Equal(t, 65535, port)
}

func TestLimits_Normalize(t *testing.T) {
	v := NewValidator(Limits{})
	assert.Equal(t, DefaultLimits(), v.Limits())

	v = NewValidator(Limits{MinPort: 1, MaxPort: 80000, TargetMinPort: 0})
	assert.Equal(t, Limits{MinPort: 1, MaxPort: MaxPortNumber, TargetMinPort: 1}, v.Limits())

	v = NewValidator(Limits{MinPort: 2000, MaxPort: 1000, TargetMinPort: 5})
	assert.Equal(t, Limits{MinPort: 1, MaxPort: 1000, TargetMinPort: 5}, v.Limits())

	v = NewValidator(Limits{MinPort: 1, MaxPort: 65535, TargetMinPort: 1})
	_, err := v.ValidateSourcePort("22")
	assert.NoError(t, err)
}
