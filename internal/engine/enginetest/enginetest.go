// Package enginetest provides gomock-generated-shape mocks for the engine package's
// collaborator interfaces, for use in engine package tests and by embedders testing their own
// StateMachine/SnapshotBuilder implementations against the engine.
//
// Hand-authored in the same shape //go:generate mockgen would produce, following
// internal/mocks/transport/transport.go's structure, since the collaborator interfaces here
// are small and stable enough not to warrant wiring up the generator in this module.
package enginetest

import (
	"io"
	"reflect"

	"github.com/golang/mock/gomock"

	"github.com/linka-cloud/audittrail/internal/engine"
	"github.com/linka-cloud/audittrail/internal/entry"
)

// MockStateMachine is a mock of engine.StateMachine.
type MockStateMachine struct {
	ctrl     *gomock.Controller
	recorder *MockStateMachineMockRecorder
}

// MockStateMachineMockRecorder is the mock recorder for MockStateMachine.
type MockStateMachineMockRecorder struct {
	mock *MockStateMachine
}

// NewMockStateMachine creates a new mock instance.
func NewMockStateMachine(ctrl *gomock.Controller) *MockStateMachine {
	mock := &MockStateMachine{ctrl: ctrl}
	mock.recorder = &MockStateMachineMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockStateMachine) EXPECT() *MockStateMachineMockRecorder {
	return m.recorder
}

// Apply mocks base method.
func (m *MockStateMachine) Apply(e entry.Entry) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Apply", e)
	ret0, _ := ret[0].(error)
	return ret0
}

// Apply indicates an expected call of Apply.
func (mr *MockStateMachineMockRecorder) Apply(e interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Apply", reflect.TypeOf((*MockStateMachine)(nil).Apply), e)
}

// Snapshot mocks base method.
func (m *MockStateMachine) Snapshot() (engine.SnapshotBuilder, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Snapshot")
	ret0, _ := ret[0].(engine.SnapshotBuilder)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// Snapshot indicates an expected call of Snapshot.
func (mr *MockStateMachineMockRecorder) Snapshot() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Snapshot", reflect.TypeOf((*MockStateMachine)(nil).Snapshot))
}

// Restore mocks base method.
func (m *MockStateMachine) Restore(r io.Reader) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Restore", r)
	ret0, _ := ret[0].(error)
	return ret0
}

// Restore indicates an expected call of Restore.
func (mr *MockStateMachineMockRecorder) Restore(r interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Restore", reflect.TypeOf((*MockStateMachine)(nil).Restore), r)
}

// MockSnapshotBuilder is a mock of engine.SnapshotBuilder.
type MockSnapshotBuilder struct {
	ctrl     *gomock.Controller
	recorder *MockSnapshotBuilderMockRecorder
}

// MockSnapshotBuilderMockRecorder is the mock recorder for MockSnapshotBuilder.
type MockSnapshotBuilderMockRecorder struct {
	mock *MockSnapshotBuilder
}

// NewMockSnapshotBuilder creates a new mock instance.
func NewMockSnapshotBuilder(ctrl *gomock.Controller) *MockSnapshotBuilder {
	mock := &MockSnapshotBuilder{ctrl: ctrl}
	mock.recorder = &MockSnapshotBuilderMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockSnapshotBuilder) EXPECT() *MockSnapshotBuilderMockRecorder {
	return m.recorder
}

// Apply mocks base method.
func (m *MockSnapshotBuilder) Apply(e entry.Entry) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Apply", e)
	ret0, _ := ret[0].(error)
	return ret0
}

// Apply indicates an expected call of Apply.
func (mr *MockSnapshotBuilderMockRecorder) Apply(e interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Apply", reflect.TypeOf((*MockSnapshotBuilder)(nil).Apply), e)
}

// AdjustIndex mocks base method.
func (m *MockSnapshotBuilder) AdjustIndex(start, end, cursor uint64) uint64 {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "AdjustIndex", start, end, cursor)
	ret0, _ := ret[0].(uint64)
	return ret0
}

// AdjustIndex indicates an expected call of AdjustIndex.
func (mr *MockSnapshotBuilderMockRecorder) AdjustIndex(start, end, cursor interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "AdjustIndex", reflect.TypeOf((*MockSnapshotBuilder)(nil).AdjustIndex), start, end, cursor)
}

// WriteTo mocks base method.
func (m *MockSnapshotBuilder) WriteTo(w io.Writer) (int64, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "WriteTo", w)
	ret0, _ := ret[0].(int64)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// WriteTo indicates an expected call of WriteTo.
func (mr *MockSnapshotBuilderMockRecorder) WriteTo(w interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "WriteTo", reflect.TypeOf((*MockSnapshotBuilder)(nil).WriteTo), w)
}

// Dispose mocks base method.
func (m *MockSnapshotBuilder) Dispose() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Dispose")
}

// Dispose indicates an expected call of Dispose.
func (mr *MockSnapshotBuilderMockRecorder) Dispose() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Dispose", reflect.TypeOf((*MockSnapshotBuilder)(nil).Dispose))
}
