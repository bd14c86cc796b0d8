package rpc

import "encoding/json"

// Marshal/Unmarshal below give every request and response type the pair
// ttrpc's built-in codec looks for (the same Marshaler/Unmarshaler shape
// protoc-gen-gogo-ttrpc emits for generated messages) so plain structs can
// stand in for generated protobuf types without a protoc step.

func (r *CreateSandboxRequest) Marshal() ([]byte, error)     { return json.Marshal(r) }
func (r *CreateSandboxRequest) Unmarshal(b []byte) error     { return json.Unmarshal(b, r) }
func (r *DestroySandboxRequest) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *DestroySandboxRequest) Unmarshal(b []byte) error    { return json.Unmarshal(b, r) }
func (r *CreateContainerRequest) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *CreateContainerRequest) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *StartContainerRequest) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *StartContainerRequest) Unmarshal(b []byte) error    { return json.Unmarshal(b, r) }
func (r *ExecProcessRequest) Marshal() ([]byte, error)       { return json.Marshal(r) }
func (r *ExecProcessRequest) Unmarshal(b []byte) error       { return json.Unmarshal(b, r) }
func (r *SignalProcessRequest) Marshal() ([]byte, error)     { return json.Marshal(r) }
func (r *SignalProcessRequest) Unmarshal(b []byte) error     { return json.Unmarshal(b, r) }
func (r *WaitProcessRequest) Marshal() ([]byte, error)       { return json.Marshal(r) }
func (r *WaitProcessRequest) Unmarshal(b []byte) error       { return json.Unmarshal(b, r) }
func (r *WaitProcessResponse) Marshal() ([]byte, error)      { return json.Marshal(r) }
func (r *WaitProcessResponse) Unmarshal(b []byte) error      { return json.Unmarshal(b, r) }
func (r *StatsContainerRequest) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *StatsContainerRequest) Unmarshal(b []byte) error    { return json.Unmarshal(b, r) }
func (r *StatsContainerResponse) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *StatsContainerResponse) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *PauseContainerRequest) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *PauseContainerRequest) Unmarshal(b []byte) error    { return json.Unmarshal(b, r) }
func (r *ResumeContainerRequest) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *ResumeContainerRequest) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *RemoveContainerRequest) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *RemoveContainerRequest) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *UpdateContainerRequest) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *UpdateContainerRequest) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *ListProcessesResponse) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *ListProcessesResponse) Unmarshal(b []byte) error    { return json.Unmarshal(b, r) }
func (r *WriteStdinRequest) Marshal() ([]byte, error)        { return json.Marshal(r) }
func (r *WriteStdinRequest) Unmarshal(b []byte) error        { return json.Unmarshal(b, r) }
func (r *CloseStdinRequest) Marshal() ([]byte, error)        { return json.Marshal(r) }
func (r *CloseStdinRequest) Unmarshal(b []byte) error        { return json.Unmarshal(b, r) }
func (r *TtyWinResizeRequest) Marshal() ([]byte, error)      { return json.Marshal(r) }
func (r *TtyWinResizeRequest) Unmarshal(b []byte) error      { return json.Unmarshal(b, r) }
func (r *AddDeviceRequest) Marshal() ([]byte, error)         { return json.Marshal(r) }
func (r *AddDeviceRequest) Unmarshal(b []byte) error         { return json.Unmarshal(b, r) }
func (r *RemoveDeviceRequest) Marshal() ([]byte, error)      { return json.Marshal(r) }
func (r *RemoveDeviceRequest) Unmarshal(b []byte) error      { return json.Unmarshal(b, r) }
func (r *AddStorageRequest) Marshal() ([]byte, error)        { return json.Marshal(r) }
func (r *AddStorageRequest) Unmarshal(b []byte) error        { return json.Unmarshal(b, r) }
func (r *RemoveStorageRequest) Marshal() ([]byte, error)     { return json.Marshal(r) }
func (r *RemoveStorageRequest) Unmarshal(b []byte) error     { return json.Unmarshal(b, r) }
func (r *UpdateInterfacesRequest) Marshal() ([]byte, error)  { return json.Marshal(r) }
func (r *UpdateInterfacesRequest) Unmarshal(b []byte) error  { return json.Unmarshal(b, r) }
func (r *UpdateRoutesRequest) Marshal() ([]byte, error)      { return json.Marshal(r) }
func (r *UpdateRoutesRequest) Unmarshal(b []byte) error      { return json.Unmarshal(b, r) }
func (r *AddARPNeighborsRequest) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *AddARPNeighborsRequest) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *ListInterfacesResponse) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *ListInterfacesResponse) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *ListRoutesResponse) Marshal() ([]byte, error)       { return json.Marshal(r) }
func (r *ListRoutesResponse) Unmarshal(b []byte) error       { return json.Unmarshal(b, r) }
func (r *SetGuestDateTimeRequest) Marshal() ([]byte, error)  { return json.Marshal(r) }
func (r *SetGuestDateTimeRequest) Unmarshal(b []byte) error  { return json.Unmarshal(b, r) }
func (r *ReseedRandomRequest) Marshal() ([]byte, error)      { return json.Marshal(r) }
func (r *ReseedRandomRequest) Unmarshal(b []byte) error      { return json.Unmarshal(b, r) }
func (r *OnlineCPUMemRequest) Marshal() ([]byte, error)      { return json.Marshal(r) }
func (r *OnlineCPUMemRequest) Unmarshal(b []byte) error      { return json.Unmarshal(b, r) }
func (r *MemHotplugProbeRequest) Marshal() ([]byte, error)   { return json.Marshal(r) }
func (r *MemHotplugProbeRequest) Unmarshal(b []byte) error   { return json.Unmarshal(b, r) }
func (r *CopyFileRequest) Marshal() ([]byte, error)          { return json.Marshal(r) }
func (r *CopyFileRequest) Unmarshal(b []byte) error          { return json.Unmarshal(b, r) }
func (r *CheckResponse) Marshal() ([]byte, error)            { return json.Marshal(r) }
func (r *CheckResponse) Unmarshal(b []byte) error            { return json.Unmarshal(b, r) }
func (r *GetMetricsResponse) Marshal() ([]byte, error)       { return json.Marshal(r) }
func (r *GetMetricsResponse) Unmarshal(b []byte) error       { return json.Unmarshal(b, r) }
func (r *GetOOMEventsResponse) Marshal() ([]byte, error)     { return json.Marshal(r) }
func (r *GetOOMEventsResponse) Unmarshal(b []byte) error     { return json.Unmarshal(b, r) }
func (r *GetGuestDetailsResponse) Marshal() ([]byte, error)  { return json.Marshal(r) }
func (r *GetGuestDetailsResponse) Unmarshal(b []byte) error  { return json.Unmarshal(b, r) }
func (r *Empty) Marshal() ([]byte, error)                    { return json.Marshal(r) }
func (r *Empty) Unmarshal(b []byte) error                    { return json.Unmarshal(b, r) }
